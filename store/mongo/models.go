package mongo

import (
	"strings"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"

	"github.com/ivylab/ivylab/subscription"
	"github.com/ivylab/ivylab/types"
)

// userModel is the document layout of the users collection. Field names
// match the documents written by earlier deployments, which stored dates
// as ISO strings without a zone.
type userModel struct {
	ID          string `bson:"_id"`
	Email       string `bson:"user_email,omitempty"`
	Name        string `bson:"user_name,omitempty"`
	FirebaseUID string `bson:"firebase_uid,omitempty"`

	Status             string    `bson:"subscription_status,omitempty"`
	Plan               string    `bson:"plan,omitempty"`
	StartDate          docTime `bson:"subscription_start_date,omitempty"`
	BillingReference   string    `bson:"stripe_subscription_id,omitempty"`
	BillingCustomerRef string    `bson:"stripe_customer_id,omitempty"`

	Legacy          bool   `bson:"legacy_user,omitempty"`
	MigratedTo      string `bson:"migrated_to_firebase_uid,omitempty"`
	MigratedFrom    string `bson:"migrated_from_legacy,omitempty"`
	MigrationStatus string `bson:"migration_status,omitempty"`

	CreatedAt docTime `bson:"created_at"`
	UpdatedAt docTime `bson:"updated_at"`
}

func toUserModel(r *subscription.Record) *userModel {
	return &userModel{
		ID:                 r.UserID,
		Email:              r.Email,
		Name:               r.Name,
		FirebaseUID:        r.FirebaseUID,
		Status:             string(r.Status),
		Plan:               string(r.Plan),
		StartDate:          docTime(r.StartDate),
		BillingReference:   r.BillingReference,
		BillingCustomerRef: r.BillingCustomerRef,
		Legacy:             r.Legacy,
		MigratedTo:         r.MigratedTo,
		MigratedFrom:       r.MigratedFrom,
		MigrationStatus:    string(r.MigrationStatus),
		CreatedAt:          docTime(r.CreatedAt),
		UpdatedAt:          docTime(r.UpdatedAt),
	}
}

func fromUserModel(m *userModel) *subscription.Record {
	return &subscription.Record{
		Entity: types.Entity{
			CreatedAt: time.Time(m.CreatedAt),
			UpdatedAt: time.Time(m.UpdatedAt),
		},
		UserID:             m.ID,
		Email:              m.Email,
		Name:               m.Name,
		FirebaseUID:        m.FirebaseUID,
		Status:             subscription.Status(m.Status),
		Plan:               subscription.Plan(m.Plan),
		StartDate:          time.Time(m.StartDate),
		BillingReference:   m.BillingReference,
		BillingCustomerRef: m.BillingCustomerRef,
		Legacy:             m.Legacy,
		MigratedTo:         m.MigratedTo,
		MigratedFrom:       m.MigratedFrom,
		MigrationStatus:    subscription.MigrationStatus(m.MigrationStatus),
	}
}

// buildMergeUpdate turns a delta into an upsert document. Empty fields are
// left out of $set so stored values survive.
func buildMergeUpdate(d subscription.Delta, at time.Time) bson.M {
	set := bson.M{
		"subscription_status": string(d.Status),
		"updated_at":          at,
	}
	if d.Plan != "" {
		set["plan"] = string(d.Plan)
	}
	if !d.StartDate.IsZero() {
		set["subscription_start_date"] = d.StartDate.UTC()
	}
	if d.BillingReference != "" {
		set["stripe_subscription_id"] = d.BillingReference
	}
	if d.BillingCustomerRef != "" {
		set["stripe_customer_id"] = d.BillingCustomerRef
	}
	if d.Email != "" {
		set["user_email"] = d.Email
	}
	if d.Name != "" {
		set["user_name"] = d.Name
	}

	return bson.M{
		"$set":         set,
		"$setOnInsert": bson.M{"created_at": at},
	}
}

// docTime is a document date. It is written as a BSON datetime and read
// from a datetime or an ISO 8601 string; strings without a zone are UTC.
// Dates are informational, so values that cannot be read decode as zero
// instead of failing the whole document.
type docTime time.Time

var docTimeLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05.999999999Z07:00",
	"2006-01-02 15:04:05.999999999",
	time.DateOnly,
}

func (t docTime) IsZero() bool { return time.Time(t).IsZero() }

func (t docTime) MarshalBSONValue() (byte, []byte, error) {
	typ, data, err := bson.MarshalValue(time.Time(t))
	return byte(typ), data, err
}

func (t *docTime) UnmarshalBSONValue(typ byte, data []byte) error {
	rv := bson.RawValue{Type: bson.Type(typ), Value: data}
	switch rv.Type {
	case bson.TypeDateTime:
		if ms, ok := rv.DateTimeOK(); ok {
			*t = docTime(time.UnixMilli(ms).UTC())
			return nil
		}
	case bson.TypeString:
		if s, ok := rv.StringValueOK(); ok {
			*t = docTime(parseDocTime(s))
			return nil
		}
	}
	*t = docTime{}
	return nil
}

func parseDocTime(s string) time.Time {
	s = strings.TrimSpace(s)
	for _, layout := range docTimeLayouts {
		if v, err := time.Parse(layout, s); err == nil {
			return v.UTC()
		}
	}
	return time.Time{}
}
