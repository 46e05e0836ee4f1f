package stream

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/vulpeslabs/redaction-plane/pkg/detect"
	"github.com/vulpeslabs/redaction-plane/pkg/redact"
)

func newTestEngine() *redact.Redactor {
	return redact.New(&redact.Config{}, detect.DefaultRegistry(), nil, nil, nil)
}

func TestStreamSentenceMode(t *testing.T) {
	r := NewRedactor(&Config{Mode: ModeSentence, BufferSize: 1024}, newTestEngine(), nil, nil, nil)
	ctx := context.Background()

	chunks, err := r.PushChunk(ctx, "Patient John")
	if err != nil {
		t.Fatal(err)
	}
	if len(chunks) != 0 {
		t.Fatalf("no sentence boundary yet, got %d chunks", len(chunks))
	}

	chunks, err = r.PushChunk(ctx, " Smith, DOB 01/02/1980.")
	if err != nil {
		t.Fatal(err)
	}
	if len(chunks) != 1 {
		t.Fatalf("got %d chunks, want 1", len(chunks))
	}
	c := chunks[0]
	if c.RedactionCount != 2 {
		t.Errorf("redaction count = %d, want 2 (name and date)", c.RedactionCount)
	}
	if !c.ContainsRedactions {
		t.Error("ContainsRedactions = false")
	}
	if strings.Contains(c.Text, "John Smith") || strings.Contains(c.Text, "01/02/1980") {
		t.Errorf("identifiers leaked: %q", c.Text)
	}
	if c.Position != 0 {
		t.Errorf("position = %d, want 0", c.Position)
	}
}

// The concatenation of all emitted chunk texts must equal the batch
// redaction of the concatenated input, as long as no identifier straddles a
// segment boundary.
func TestStreamMatchesBatchOutput(t *testing.T) {
	ctx := context.Background()
	engine := newTestEngine()
	r := NewRedactor(&Config{Mode: ModeSentence, BufferSize: 1024}, engine, nil, nil, nil)

	inputs := []string{
		"Call 555-123-4567 now. ",
		"Email alice@example.com today. ",
		"Nothing sensitive here.",
	}

	var streamed strings.Builder
	for _, in := range inputs {
		chunks, err := r.PushChunk(ctx, in)
		if err != nil {
			t.Fatal(err)
		}
		for _, c := range chunks {
			streamed.WriteString(c.Text)
		}
	}
	chunks, err := r.Close(ctx)
	if err != nil {
		t.Fatal(err)
	}
	for _, c := range chunks {
		streamed.WriteString(c.Text)
	}

	batch, err := engine.Redact(ctx, strings.Join(inputs, ""))
	if err != nil {
		t.Fatal(err)
	}
	if streamed.String() != batch.RedactedText {
		t.Errorf("streamed output diverged from batch:\n stream %q\n batch  %q", streamed.String(), batch.RedactedText)
	}
}

func TestStreamPositionsAreCumulative(t *testing.T) {
	r := NewRedactor(&Config{Mode: ModeImmediate}, newTestEngine(), nil, nil, nil)
	ctx := context.Background()

	first, err := r.PushChunk(ctx, "hello ")
	if err != nil {
		t.Fatal(err)
	}
	second, err := r.PushChunk(ctx, "world")
	if err != nil {
		t.Fatal(err)
	}
	if len(first) != 1 || len(second) != 1 {
		t.Fatalf("chunks = %d, %d", len(first), len(second))
	}
	if first[0].Position != 0 || second[0].Position != 6 {
		t.Errorf("positions = %d, %d, want 0, 6", first[0].Position, second[0].Position)
	}
}

// With an empty registry the engine finds nothing on its own; any redaction
// in the output must have come through the fast-path scanner.
func TestStreamAcceleratedScannerFeedsEngine(t *testing.T) {
	engine := redact.New(&redact.Config{}, detect.NewRegistry(), nil, nil, nil)
	cfg := &Config{Mode: ModeImmediate, BufferSize: 1024, Overlap: 32, Accelerated: true}
	r := NewRedactor(cfg, engine, []detect.Detector{detect.NewSSNDetector()}, nil, nil)
	ctx := context.Background()

	if _, err := r.PushChunk(ctx, "SSN 123-45-"); err != nil {
		t.Fatal(err)
	}
	if _, err := r.PushChunk(ctx, "6789"); err != nil {
		t.Fatal(err)
	}
	chunks, err := r.Close(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(chunks) != 1 {
		t.Fatalf("got %d chunks, want 1", len(chunks))
	}
	if chunks[0].RedactionCount != 1 {
		t.Errorf("redaction count = %d, want the scanner-fed SSN", chunks[0].RedactionCount)
	}
	if strings.Contains(chunks[0].Text, "123-45-6789") {
		t.Errorf("identifier split across chunks leaked: %q", chunks[0].Text)
	}
}

// A mid-stream flush whose cut lands inside a scanner-detected identifier
// must defer the identifier to the next segment, never emit it split and
// unredacted.
func TestStreamAcceleratedNoLeakAcrossOverlapCut(t *testing.T) {
	engine := redact.New(&redact.Config{}, detect.NewRegistry(), nil, nil, nil)
	cfg := &Config{Mode: ModeImmediate, BufferSize: 48, Overlap: 16, Accelerated: true}
	r := NewRedactor(cfg, engine, []detect.Detector{detect.NewSSNDetector()}, nil, nil)
	ctx := context.Background()

	input := "Patient John Smith, SSN 123-45-6789, was seen today in the clinic."
	var out strings.Builder
	total := 0
	for i := 0; i < len(input); i += 4 {
		chunks, err := r.PushChunk(ctx, input[i:min(i+4, len(input))])
		if err != nil {
			t.Fatal(err)
		}
		for _, c := range chunks {
			out.WriteString(c.Text)
			total += c.RedactionCount
		}
	}
	chunks, err := r.Close(ctx)
	if err != nil {
		t.Fatal(err)
	}
	for _, c := range chunks {
		out.WriteString(c.Text)
		total += c.RedactionCount
	}

	want := strings.Replace(input, "123-45-6789", "[REDACTED:SSN]", 1)
	if out.String() != want {
		t.Errorf("streamed output = %q, want %q", out.String(), want)
	}
	if total != 1 {
		t.Errorf("total redactions = %d, want 1", total)
	}
}

func TestStreamIdleFlushEmits(t *testing.T) {
	emitted := make(chan []Chunk, 1)
	cfg := &Config{Mode: ModeSentence, BufferSize: 1024, IdleFlushTimeout: 25 * time.Millisecond}
	r := NewRedactor(cfg, newTestEngine(), nil, nil, nil)
	r.IdleEmit = func(chunks []Chunk) { emitted <- chunks }

	if _, err := r.PushChunk(context.Background(), "no terminator"); err != nil {
		t.Fatal(err)
	}

	select {
	case chunks := <-emitted:
		if len(chunks) != 1 || chunks[0].Text != "no terminator" {
			t.Errorf("idle flush chunks = %+v", chunks)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("idle flush never fired")
	}
}

func TestStreamIdleFlushHeldWithoutCallback(t *testing.T) {
	cfg := &Config{Mode: ModeSentence, BufferSize: 1024, IdleFlushTimeout: 25 * time.Millisecond}
	r := NewRedactor(cfg, newTestEngine(), nil, nil, nil)
	ctx := context.Background()

	if _, err := r.PushChunk(ctx, "stalled input"); err != nil {
		t.Fatal(err)
	}
	time.Sleep(150 * time.Millisecond)

	chunks, err := r.PushChunk(ctx, " resumes")
	if err != nil {
		t.Fatal(err)
	}
	if len(chunks) == 0 || chunks[0].Text != "stalled input" {
		t.Errorf("held idle-flush output not returned first: %+v", chunks)
	}
}

func TestStreamCloseSemantics(t *testing.T) {
	r := NewRedactor(&Config{Mode: ModeSentence, BufferSize: 1024}, newTestEngine(), nil, nil, nil)
	ctx := context.Background()

	if _, err := r.PushChunk(ctx, "tail without terminator"); err != nil {
		t.Fatal(err)
	}
	chunks, err := r.Close(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(chunks) != 1 || chunks[0].Text != "tail without terminator" {
		t.Errorf("terminal flush = %+v", chunks)
	}

	if _, err := r.PushChunk(ctx, "more"); err != ErrStreamClosed {
		t.Errorf("push after close: err = %v, want ErrStreamClosed", err)
	}
	if _, err := r.Close(ctx); err != ErrStreamClosed {
		t.Errorf("double close: err = %v, want ErrStreamClosed", err)
	}
}

func TestStreamReset(t *testing.T) {
	r := NewRedactor(&Config{Mode: ModeSentence, BufferSize: 1024}, newTestEngine(), nil, nil, nil)
	ctx := context.Background()

	if _, err := r.PushChunk(ctx, "buffered"); err != nil {
		t.Fatal(err)
	}
	if _, err := r.Close(ctx); err != nil {
		t.Fatal(err)
	}
	r.Reset()

	chunks, err := r.PushChunk(ctx, "fresh.")
	if err != nil {
		t.Fatalf("push after reset: %v", err)
	}
	if len(chunks) != 1 || chunks[0].Position != 0 {
		t.Errorf("chunks after reset = %+v", chunks)
	}
}
