package dcragent

import (
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"time"

	"github.com/glebarez/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// OpenDB opens (or creates) the agent database. The busy timeout matters:
// dispatch workers write claims concurrently.
func OpenDB(path string) (*gorm.DB, error) {
	db, err := gorm.Open(sqlite.Open(path+"?_pragma=busy_timeout(5000)"), &gorm.Config{})
	if err != nil {
		return nil, err
	}
	if err := db.AutoMigrate(&DedupRecord{}, &DeadLetter{}); err != nil {
		return nil, err
	}
	return db, nil
}

// DedupStore remembers which report identities have already been fully
// disseminated, across restarts. Claim is the single-owner reservation: two
// dispatch workers can never both win the insert for the same report id.
type DedupStore struct {
	db *gorm.DB
}

func NewDedupStore(db *gorm.DB) *DedupStore {
	return &DedupStore{db: db}
}

// Seen reports whether the id has already been fully disseminated. The
// assembler uses it as a fast-path rejection before allocating a job.
func (s *DedupStore) Seen(reportID string) (bool, error) {
	var n int64
	err := s.db.Model(&DedupRecord{}).
		Where("report_id = ? AND disseminated = ?", reportID, true).
		Count(&n).Error
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// Claim atomically reserves a report id for dispatch. Returns false when the
// id is already claimed or disseminated.
func (s *DedupStore) Claim(reportID string, now time.Time) (bool, error) {
	rec := DedupRecord{ReportID: reportID, ClaimedAt: now.UTC()}
	res := s.db.Clauses(clause.OnConflict{DoNothing: true}).Create(&rec)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

// MarkDisseminated finalizes a claim after both persistence and notification
// succeeded. This is the only point a report counts as fully handled.
func (s *DedupStore) MarkDisseminated(reportID string, completedAt time.Time, dispositionHash string) error {
	t := completedAt.UTC()
	return s.db.Model(&DedupRecord{}).
		Where("report_id = ?", reportID).
		Updates(map[string]any{
			"disseminated":     true,
			"completed_at":     &t,
			"disposition_hash": dispositionHash,
		}).Error
}

// ResetOrphanClaims releases claims left behind by a crash: rows that were
// reserved but neither disseminated nor dead-lettered. Dead-lettered claims
// stay, so a restart does not quietly re-disseminate a failed report.
func (s *DedupStore) ResetOrphanClaims() (int64, error) {
	res := s.db.Where("disseminated = ? AND report_id NOT IN (?)",
		false, s.db.Model(&DeadLetter{}).Select("report_id")).
		Delete(&DedupRecord{})
	return res.RowsAffected, res.Error
}

// Prune drops disseminated records older than the cutoff. Satellites stop
// repeating a report long before the default 24h retention ends.
func (s *DedupStore) Prune(olderThan time.Time) (int64, error) {
	res := s.db.Where("disseminated = ? AND completed_at < ?", true, olderThan.UTC()).
		Delete(&DedupRecord{})
	return res.RowsAffected, res.Error
}

// RecordDeadLetter persists an operator-visible record of a failed dispatch.
func (s *DedupStore) RecordDeadLetter(dl DeadLetter) error {
	return s.db.Create(&dl).Error
}

// DeadLetters lists failed dispatches, newest first.
func (s *DedupStore) DeadLetters() ([]DeadLetter, error) {
	var out []DeadLetter
	err := s.db.Order("id desc").Find(&out).Error
	return out, err
}

// DispositionHash fingerprints the assembled pages so an operator can tell a
// content-changed retransmission apart from an identical one. Identity for
// dedup purposes stays the report id. Each page is length-prefixed so moving
// bytes across a page boundary changes the fingerprint.
func DispositionHash(pages [][]byte) string {
	h := sha256.New()
	var size [8]byte
	for _, p := range pages {
		binary.BigEndian.PutUint64(size[:], uint64(len(p)))
		h.Write(size[:])
		h.Write(p)
	}
	return hex.EncodeToString(h.Sum(nil))
}
