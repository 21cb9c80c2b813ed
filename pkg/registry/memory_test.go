package registry

import (
	"testing"
	"time"

	"github.com/cellsentry/cell-sentry/pkg/models"
)

func TestUpsertAndGet(t *testing.T) {
	r := NewMemoryRegistry()

	err := r.Upsert(models.TowerRecord{
		CellID: "1a2b3c",
		MCC:    "262",
		MNC:    "2",
		Source: "BeaconDB",
	})
	if err != nil {
		t.Fatalf("Upsert failed: %v", err)
	}

	rec, found, err := r.Get("1a2b3c")
	if err != nil || !found {
		t.Fatalf("Get failed: found=%v err=%v", found, err)
	}
	if rec.MCC != "262" || rec.Source != "BeaconDB" {
		t.Errorf("Unexpected record: %+v", rec)
	}
	if rec.FirstSeen.IsZero() || rec.LastSeen.IsZero() {
		t.Error("Timestamps should be set on first insert")
	}

	if _, found, _ := r.Get("unknown"); found {
		t.Error("Unknown cell should not be found")
	}
}

func TestUpsertMergePreservesFields(t *testing.T) {
	r := NewMemoryRegistry()

	r.Upsert(models.TowerRecord{
		CellID:    "1a2b3c",
		MCC:       "262",
		Latitude:  models.FloatPtr(52.52),
		Longitude: models.FloatPtr(13.405),
	})
	r.Upsert(models.TowerRecord{CellID: "1a2b3c", RAT: "LTE"})

	rec, _, _ := r.Get("1a2b3c")
	if rec.Latitude == nil || *rec.Latitude != 52.52 {
		t.Error("Coordinates must survive a partial upsert")
	}
	if rec.MCC != "262" || rec.RAT != "LTE" {
		t.Errorf("Field merge failed: %+v", rec)
	}
}

func TestVerifiedIsSticky(t *testing.T) {
	r := NewMemoryRegistry()

	r.Upsert(models.TowerRecord{
		CellID:     "1a2b3c",
		IsVerified: true,
		Latitude:   models.FloatPtr(52.52),
		Longitude:  models.FloatPtr(13.405),
	})

	// A later upsert without the flag must not demote.
	r.Upsert(models.TowerRecord{CellID: "1a2b3c", IsVerified: false})
	rec, _, _ := r.Get("1a2b3c")
	if !rec.IsVerified {
		t.Fatal("Upsert must never clear isVerified")
	}

	// Refresh must not demote either.
	r.Refresh("1a2b3c", time.Now(), Observed{DBM: models.IntPtr(-90)})
	rec, _, _ = r.Get("1a2b3c")
	if !rec.IsVerified {
		t.Fatal("Refresh must never clear isVerified")
	}
	if rec.DBM == nil || *rec.DBM != -90 {
		t.Error("Refresh should update observed fields")
	}

	// Only the explicit Demote clears it.
	r.Demote("1a2b3c")
	rec, _, _ = r.Get("1a2b3c")
	if rec.IsVerified {
		t.Error("Demote should clear isVerified")
	}
}

func TestBlockedFlagOwnedBySetBlocked(t *testing.T) {
	r := NewMemoryRegistry()

	r.Upsert(models.TowerRecord{CellID: "1a2b3c"})
	r.SetBlocked("1a2b3c", true)

	// Upserts never touch the flag.
	r.Upsert(models.TowerRecord{CellID: "1a2b3c", IsBlocked: false})
	rec, _, _ := r.Get("1a2b3c")
	if !rec.IsBlocked {
		t.Fatal("Upsert must not clear isBlocked")
	}

	blocked, err := r.Blocked()
	if err != nil || len(blocked) != 1 {
		t.Fatalf("Expected 1 blocked tower, got %d (err=%v)", len(blocked), err)
	}

	r.SetBlocked("1a2b3c", false)
	if blocked, _ := r.Blocked(); len(blocked) != 0 {
		t.Errorf("Expected 0 blocked towers, got %d", len(blocked))
	}
}

func TestSetBlockedCreatesRecord(t *testing.T) {
	r := NewMemoryRegistry()
	r.SetBlocked("feed", true)
	rec, found, _ := r.Get("feed")
	if !found || !rec.IsBlocked {
		t.Error("SetBlocked on an unknown cell should create a blocked record")
	}
}

func TestRefreshUnknownCellIsNoop(t *testing.T) {
	r := NewMemoryRegistry()
	if err := r.Refresh("missing", time.Now(), Observed{}); err != nil {
		t.Fatalf("Refresh of unknown cell should be a no-op, got %v", err)
	}
	if r.Len() != 0 {
		t.Error("Refresh must not create records")
	}
}

func TestInArea(t *testing.T) {
	r := NewMemoryRegistry()

	r.Upsert(models.TowerRecord{
		CellID: "berlin", Latitude: models.FloatPtr(52.52), Longitude: models.FloatPtr(13.405),
	})
	r.Upsert(models.TowerRecord{
		CellID: "paris", Latitude: models.FloatPtr(48.8566), Longitude: models.FloatPtr(2.3522),
	})
	r.Upsert(models.TowerRecord{CellID: "nocoords"})

	box := models.BoundingBox{MinLat: 52, MaxLat: 53, MinLon: 13, MaxLon: 14}
	got, err := r.InArea(box)
	if err != nil || len(got) != 1 {
		t.Fatalf("Expected 1 tower in box, got %d (err=%v)", len(got), err)
	}
	if got[0].CellID != "berlin" {
		t.Errorf("Expected berlin, got %s", got[0].CellID)
	}
}

func TestDeleteOlderThanSparesVerifiedAndBlocked(t *testing.T) {
	r := NewMemoryRegistry()
	old := time.Now().Add(-48 * time.Hour)

	r.Upsert(models.TowerRecord{CellID: "stale", LastSeen: old, FirstSeen: old})
	r.Upsert(models.TowerRecord{
		CellID: "verified", LastSeen: old, FirstSeen: old,
		IsVerified: true, Latitude: models.FloatPtr(1), Longitude: models.FloatPtr(1),
	})
	r.Upsert(models.TowerRecord{CellID: "blockme", LastSeen: old, FirstSeen: old})
	r.SetBlocked("blockme", true)
	r.Upsert(models.TowerRecord{CellID: "fresh"})

	deleted, err := r.DeleteOlderThan(time.Now().Add(-24 * time.Hour))
	if err != nil {
		t.Fatalf("DeleteOlderThan failed: %v", err)
	}
	if deleted != 1 {
		t.Errorf("Expected 1 deletion, got %d", deleted)
	}
	if _, found, _ := r.Get("stale"); found {
		t.Error("Stale record should be gone")
	}
	for _, id := range []string{"verified", "blockme", "fresh"} {
		if _, found, _ := r.Get(id); !found {
			t.Errorf("Record %s should survive", id)
		}
	}
}
