package mongo

import (
	"strings"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/bsontype"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

// The CRUD backend stores dates either as BSON dates or as ISO strings in a
// handful of layouts (Python isoformat with and without offset, plain days).
var dateLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999",
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"2006-01-02",
}

// parseDate returns the zero time when the value is absent or unparseable.
// Offset-less strings are read as UTC.
func parseDate(v bson.RawValue) time.Time {
	switch v.Type {
	case bsontype.DateTime:
		return v.Time().UTC()
	case bsontype.Timestamp:
		t, _ := v.Timestamp()
		return time.Unix(int64(t), 0).UTC()
	case bsontype.String:
		return parseDateString(v.StringValue())
	default:
		return time.Time{}
	}
}

func parseDateString(s string) time.Time {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}
	}
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC()
		}
	}
	return time.Time{}
}

// sinceFilter matches a date field at or after since whether it is stored as
// a BSON date or as an ISO string. BSON compares values of the same type
// only, so each branch sees its own representation.
func sinceFilter(field string, since time.Time) bson.M {
	since = since.UTC()
	// A midnight bound also has to match plain "2006-01-02" strings, which
	// sort before any timestamp of the same day.
	prefix := since.Format("2006-01-02T15:04:05")
	if since.Equal(since.Truncate(24 * time.Hour)) {
		prefix = since.Format("2006-01-02")
	}
	return bson.M{"$or": bson.A{
		bson.M{field: bson.M{"$gte": primitive.NewDateTimeFromTime(since)}},
		bson.M{field: bson.M{"$gte": prefix}},
	}}
}
