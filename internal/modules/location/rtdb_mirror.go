// Package location: rtdb_mirror publishes driver positions to Firebase RTDB
// so rider apps can follow their driver without polling the API.
package location

import (
	"context"
	"fmt"

	"firebase.google.com/go/v4/db"
)

// rtdbDriverEntry mirrors a single driver entry stored in Firebase RTDB
// under the /driver_locations node.
type rtdbDriverEntry struct {
	Lat       float64 `json:"lat"`
	Lng       float64 `json:"lng"`
	Timestamp int64   `json:"timestamp"`
}

type RTDBMirror struct {
	client *db.Client
}

func NewRTDBMirror(client *db.Client) *RTDBMirror {
	return &RTDBMirror{client: client}
}

// Mirror writes p inside an RTDB transaction so a late write never replaces
// a newer entry.
func (m *RTDBMirror) Mirror(ctx context.Context, p Position) error {
	ref := m.client.NewRef("driver_locations/" + string(p.DriverID))
	next := rtdbDriverEntry{Lat: p.Point.Lat, Lng: p.Point.Lng, Timestamp: p.At.UnixMilli()}

	err := ref.Transaction(ctx, func(node db.TransactionNode) (interface{}, error) {
		var cur *rtdbDriverEntry
		if err := node.Unmarshal(&cur); err != nil {
			return nil, err
		}
		if cur != nil && cur.Timestamp >= next.Timestamp {
			return cur, nil
		}
		return next, nil
	})
	if err != nil {
		return fmt.Errorf("rtdb mirror %s: %w", p.DriverID, err)
	}
	return nil
}
