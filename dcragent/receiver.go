package dcragent

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"io"
	"time"

	"go.uber.org/zap"
)

// Decoder is the external collaborator that turns navigation subframes into
// structured fragments. Next blocks until a fragment is available and returns
// io.EOF when the stream ends. Fragments may arrive in any order, with
// arbitrary repetition.
type Decoder interface {
	Next(ctx context.Context) (Fragment, error)
}

// Receiver adapts the decoder stream into a buffered fragment queue. It owns
// no state beyond the pass-through channel.
type Receiver struct {
	dec Decoder
	out chan Fragment
}

func NewReceiver(dec Decoder, buffer int) *Receiver {
	if buffer <= 0 {
		buffer = 256
	}
	return &Receiver{dec: dec, out: make(chan Fragment, buffer)}
}

// Fragments returns the typed fragment stream. The channel closes when the
// decoder stream ends or the pump is cancelled.
func (r *Receiver) Fragments() <-chan Fragment {
	return r.out
}

// Run pumps the decoder until ctx is cancelled or the stream ends.
func (r *Receiver) Run(ctx context.Context) error {
	defer close(r.out)
	for {
		f, err := r.dec.Next(ctx)
		if err != nil {
			if errors.Is(err, io.EOF) || errors.Is(err, context.Canceled) {
				return nil
			}
			return err
		}
		select {
		case r.out <- f:
		case <-ctx.Done():
			return nil
		}
	}
}

// wireFragment is the NDJSON shape emitted by the decoder process. An absent
// valid flag means the decoder already validated the fragment.
type wireFragment struct {
	ReportID  string `json:"report_id"`
	PageIndex int    `json:"page_index"`
	PageCount int    `json:"page_count"`
	Payload   []byte `json:"payload"`
	Valid     *bool  `json:"valid"`
}

// JSONLineDecoder reads fragments as one JSON object per line, the handoff
// format of the external decoder process. Unparseable lines are skipped with
// a diagnostic, matching how the original agent ignored non-matching output.
type JSONLineDecoder struct {
	sc  *bufio.Scanner
	log *zap.SugaredLogger
}

func NewJSONLineDecoder(r io.Reader, log *zap.SugaredLogger) *JSONLineDecoder {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	return &JSONLineDecoder{sc: sc, log: log}
}

func (d *JSONLineDecoder) Next(ctx context.Context) (Fragment, error) {
	for d.sc.Scan() {
		if err := ctx.Err(); err != nil {
			return Fragment{}, err
		}
		line := d.sc.Bytes()
		if len(line) == 0 {
			continue
		}
		var wf wireFragment
		if err := json.Unmarshal(line, &wf); err != nil {
			d.log.Warnw("skipping unparseable decoder line", "error", err)
			continue
		}
		valid := wf.Valid == nil || *wf.Valid
		return Fragment{
			ReportID:   wf.ReportID,
			PageIndex:  wf.PageIndex,
			PageCount:  wf.PageCount,
			Payload:    wf.Payload,
			ReceivedAt: time.Now(),
			Valid:      valid,
		}, nil
	}
	if err := d.sc.Err(); err != nil {
		return Fragment{}, err
	}
	return Fragment{}, io.EOF
}
