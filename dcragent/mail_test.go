package dcragent

import (
	"errors"
	"strings"
	"testing"
)

func TestMailNotifier_InvalidSenderIsPermanent(t *testing.T) {
	n := NewMailNotifier(MailConfig{Host: "localhost", Port: 2525, From: "not an address"})
	err := n.Send("s", "b", []string{"ops@example.org"})
	if err == nil || !errors.Is(err, ErrPermanent) {
		t.Fatalf("err = %v, want ErrPermanent", err)
	}
}

func TestMailNotifier_InvalidRecipientIsPermanent(t *testing.T) {
	n := NewMailNotifier(MailConfig{Host: "localhost", Port: 2525, From: "qzss@example.org"})
	err := n.Send("s", "b", []string{"definitely not an address"})
	if err == nil || !errors.Is(err, ErrPermanent) {
		t.Fatalf("err = %v, want ErrPermanent", err)
	}
}

func TestReport_MailBodyCarriesPagesAndReceptionTime(t *testing.T) {
	r := testReport("7", "ALPHA", "BETA")
	body := r.MailBody()
	if !strings.Contains(body, "ALPHA") || !strings.Contains(body, "BETA") {
		t.Fatalf("body = %q", body)
	}
	if !strings.Contains(body, "Received: ") {
		t.Fatalf("body misses the reception time line: %q", body)
	}
	if !strings.Contains(r.MailSubject(), "7") {
		t.Fatalf("subject = %q", r.MailSubject())
	}
}
