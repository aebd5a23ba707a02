package dcragent

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// Fragment is one decoded page of a broadcast report as handed over by the
// decoder collaborator. Delivery order is not guaranteed and the same page
// may arrive many times while a satellite repeats a transmission.
type Fragment struct {
	ReportID   string
	PageIndex  int // 1-based
	PageCount  int
	Payload    []byte
	ReceivedAt time.Time
	Valid      bool
}

// Report is a fully reassembled logical message ready for dissemination.
type Report struct {
	ReportID    string    `json:"report_id"`
	PageCount   int       `json:"page_count"`
	Pages       [][]byte  `json:"pages"`
	CompletedAt time.Time `json:"completed_at"`
}

// Artifact renders the durable JSON document written to the persistent store.
func (r Report) Artifact() ([]byte, error) {
	return json.MarshalIndent(r, "", "  ")
}

// MailSubject is the notification subject line for this report.
func (r Report) MailSubject() string {
	return fmt.Sprintf("DC Report %s (%d pages)", r.ReportID, r.PageCount)
}

// MailBody renders the assembled pages as the notification text, with the
// reception time appended after the report content.
func (r Report) MailBody() string {
	var b strings.Builder
	for _, p := range r.Pages {
		b.Write(p)
		b.WriteString("\n")
	}
	b.WriteString("\nReceived: ")
	b.WriteString(r.CompletedAt.UTC().Format("2006/01/02 15:04:05"))
	b.WriteString("\n")
	return b.String()
}

// DedupRecord marks a report identity as claimed for dispatch and, once
// Disseminated is set, as fully handled. Rows live in SQLite so repeated
// broadcasts across process restarts stay suppressed.
type DedupRecord struct {
	ID              uint      `gorm:"primaryKey"`
	ReportID        string    `gorm:"uniqueIndex;size:128"`
	ClaimedAt       time.Time `gorm:"index"`
	Disseminated    bool      `gorm:"index"`
	CompletedAt     *time.Time
	DispositionHash string `gorm:"size:64"`
}

// DeadLetter records a report whose dispatch hit a permanent failure or
// exhausted its retries. Kept for operator inspection; never retried
// automatically.
type DeadLetter struct {
	ID         uint   `gorm:"primaryKey"`
	ReportID   string `gorm:"index;size:128"`
	Stage      string `gorm:"size:16"` // persist, notify, mark
	Attempts   int
	LastError  string    `gorm:"type:text"`
	ReportJSON string    `gorm:"type:text"`
	CreatedAt  time.Time `gorm:"index"`
}
