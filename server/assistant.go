package server

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/ivylab/ivylab/llm"
	"github.com/ivylab/ivylab/session"
)

// minDemoEssay is the shortest essay /demo-analyze accepts, in characters.
const minDemoEssay = 100

// entitled answers 401 or 403 and returns false unless the session user
// holds an active subscription.
func (s *Server) entitled(w http.ResponseWriter, r *http.Request) bool {
	sess := session.FromContext(r.Context())
	if !sess.Authenticated() {
		writeError(w, http.StatusUnauthorized, "Authentication required")
		return false
	}

	d := s.engine.Entitled(r.Context(), sess.UserID, sess.Snapshot())
	if !d.Granted {
		writeError(w, http.StatusForbidden, "Subscription required: "+d.Reason)
		return false
	}
	return true
}

func (s *Server) handleAnalyze(w http.ResponseWriter, r *http.Request) {
	if !s.entitled(w, r) {
		return
	}
	essay, ok := formField(w, r, "essay")
	if !ok {
		writeError(w, http.StatusBadRequest, "essay is required")
		return
	}
	s.stream(w, r, llm.TaskAnalyze, essay, "text/plain; charset=utf-8")
}

func (s *Server) handleGenerate(w http.ResponseWriter, r *http.Request) {
	if !s.entitled(w, r) {
		return
	}
	outline, ok := formField(w, r, "outline")
	if !ok {
		writeError(w, http.StatusBadRequest, "outline is required")
		return
	}
	s.stream(w, r, llm.TaskGenerate, outline, "text/event-stream")
}

func formField(w http.ResponseWriter, r *http.Request, key string) (string, bool) {
	r.Body = http.MaxBytesReader(w, r.Body, maxBody)
	v := r.PostFormValue(key)
	_, ok := r.PostForm[key]
	return v, ok
}

// stream relays model output chunk by chunk. Once the first byte is out the
// status is fixed, so relay failures are reported inside the body.
func (s *Server) stream(w http.ResponseWriter, r *http.Request, task llm.Task, input, contentType string) {
	if s.assistant == nil {
		writeError(w, http.StatusServiceUnavailable, "Assistant not configured")
		return
	}

	h := w.Header()
	h.Set("Content-Type", contentType)
	h.Set("Cache-Control", "no-cache")
	h.Set("Connection", "keep-alive")
	h.Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)

	rc := http.NewResponseController(w)
	chunks := 0
	err := s.assistant.Run(r.Context(), task, input, func(chunk string) error {
		if _, err := w.Write([]byte(chunk)); err != nil {
			return err
		}
		chunks++
		_ = rc.Flush()
		return nil
	})

	switch {
	case err == nil:
		s.logger.Debug("stream complete", "task", task, "chunks", chunks)
	case errors.Is(err, context.Canceled):
		s.logger.Debug("stream abandoned by client", "task", task, "chunks", chunks)
	default:
		s.logger.Error("stream failed", "task", task, "chunks", chunks, "error", err)
		_, _ = w.Write([]byte("Error: " + err.Error()))
		_ = rc.Flush()
	}
}

type demoRequest struct {
	Essay string `json:"essay"`
}

func (s *Server) handleDemoAnalyze(w http.ResponseWriter, r *http.Request) {
	var req demoRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if utf8.RuneCountInString(strings.TrimSpace(req.Essay)) < minDemoEssay {
		writeError(w, http.StatusBadRequest, "Please provide an essay with at least 100 characters")
		return
	}

	if s.demoDelay > 0 {
		t := time.NewTimer(s.demoDelay)
		defer t.Stop()
		select {
		case <-r.Context().Done():
			return
		case <-t.C:
		}
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"success":       true,
		"score":         "67",
		"overall_score": "67",
		"ivy_ready":     "Not Ivy Ready",
		"strengths":     "Shows potential with basic structure and clear writing.",
		"improvements":  "Needs more compelling narrative, deeper reflection, and unique personal anecdotes.",
		"full_analysis": demoAnalysis,
		"demo":          true,
		"message":       "This is a preview. Get the full detailed analysis with subscription.",
		"streaming":     true,
	})
}

const demoAnalysis = `**Narrative and Storytelling: 65/100**
Your essay shows potential but lacks the compelling narrative structure needed for top-tier applications. The story needs more vivid details and emotional depth to truly engage readers.

**Personal Reflection and Growth: 70/100**
There are glimpses of personal insight, but the reflection could be much deeper. Consider exploring specific moments of growth and transformation that shaped your perspective.

**Unique Voice and Authenticity: 68/100**
While your voice comes through, it needs to be more distinctive. The essay feels somewhat generic and could benefit from more personal anecdotes and unique perspectives.

**Clear Structure and Logical Flow: 72/100**
The basic structure is present, but the flow between ideas could be smoother. Some transitions feel abrupt and the overall organization needs refinement.

**Connection to Larger Themes or Ideas: 65/100**
The connections to broader themes are mentioned but not deeply explored. Consider how your experiences relate to larger societal issues or universal human experiences.

**Intellectual Curiosity: 70/100**
There's evidence of intellectual engagement, but it could be more pronounced. Consider adding more specific examples of how you've pursued knowledge and learning.

**Impact and Initiative: 65/100**
The essay mentions goals and aspirations, but lacks concrete examples of leadership and impact. Consider adding specific instances where you've made a difference.

**Diversity and Global Perspective: 60/100**
The global perspective is limited. Consider how your experiences connect to broader cultural, social, or international contexts.

**Readability and Flow: 75/100**
The writing is generally clear, but some sentences could be more concise and impactful. The overall flow is decent but could be more engaging.

**Uniqueness: 62/100**
The essay covers familiar territory without offering truly unique insights or perspectives. Consider what makes your story different from other applicants.

**Overall Score: 67/100**

**Key Areas for Improvement:**
- Develop a more compelling narrative with specific, vivid details
- Deepen personal reflection and show genuine growth
- Add more unique, personal anecdotes that set you apart
- Strengthen connections to larger themes and global perspectives
- Demonstrate concrete examples of leadership and impact

This essay has potential but needs significant revision to be competitive for top-tier institutions. Focus on developing a more distinctive voice and adding specific examples that illustrate your unique qualities and experiences.`
