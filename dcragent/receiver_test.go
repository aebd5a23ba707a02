package dcragent

import (
	"context"
	"errors"
	"io"
	"strings"
	"testing"
)

func TestJSONLineDecoder(t *testing.T) {
	input := strings.Join([]string{
		`{"report_id":"7","page_index":1,"page_count":2,"payload":"QUxQSEE="}`,
		`not json at all`,
		`{"report_id":"9","page_index":1,"page_count":1,"payload":"WA==","valid":false}`,
	}, "\n")
	dec := NewJSONLineDecoder(strings.NewReader(input), testLogger())
	ctx := context.Background()

	f, err := dec.Next(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if f.ReportID != "7" || f.PageIndex != 1 || f.PageCount != 2 {
		t.Fatalf("unexpected fragment: %+v", f)
	}
	if string(f.Payload) != "ALPHA" {
		t.Fatalf("payload = %q", f.Payload)
	}
	if !f.Valid {
		t.Fatal("absent valid flag must mean valid")
	}

	// The unparseable line is skipped.
	f, err = dec.Next(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if f.ReportID != "9" || f.Valid {
		t.Fatalf("unexpected fragment: %+v", f)
	}

	if _, err := dec.Next(ctx); !errors.Is(err, io.EOF) {
		t.Fatalf("err = %v, want io.EOF", err)
	}
}

func TestReceiver_PumpsUntilEOF(t *testing.T) {
	frags := []Fragment{
		frag("1", 1, 1, "a"),
		frag("2", 1, 1, "b"),
	}
	r := NewReceiver(&scriptDecoder{frags: frags}, 4)

	done := make(chan error, 1)
	go func() { done <- r.Run(context.Background()) }()

	var got []Fragment
	for f := range r.Fragments() {
		got = append(got, f)
	}
	if err := <-done; err != nil {
		t.Fatal(err)
	}
	if len(got) != 2 || got[0].ReportID != "1" || got[1].ReportID != "2" {
		t.Fatalf("received fragments: %+v", got)
	}
}

func TestReceiver_StopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	r := NewReceiver(blockingDecoder{}, 1)

	done := make(chan error, 1)
	go func() { done <- r.Run(ctx) }()
	cancel()

	if err := <-done; err != nil {
		t.Fatal(err)
	}
	if _, open := <-r.Fragments(); open {
		t.Fatal("fragment channel must be closed after cancel")
	}
}

type blockingDecoder struct{}

func (d blockingDecoder) Next(ctx context.Context) (Fragment, error) {
	<-ctx.Done()
	return Fragment{}, ctx.Err()
}
