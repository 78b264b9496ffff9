package telemetry_test

import (
	"strings"
	"testing"

	"github.com/nidaahmed301/icub-main/telemetry"
)

func TestPadZeroFills(t *testing.T) {
	f := telemetry.Pad(1, 2, 3)
	want := telemetry.Frame{1, 2, 3, 0, 0, 0, 0, 0}
	if f != want {
		t.Errorf("expected %v got %v", want, f)
	}
}

func TestPublishFanOut(t *testing.T) {
	p := telemetry.NewPort()
	a := p.Subscribe(4)
	b := p.Subscribe(4)
	if !p.HasSubscribers() {
		t.Fatal("expected subscribers")
	}
	f := telemetry.Pad(9)
	p.Publish(f)
	if got := <-a; got != f {
		t.Errorf("subscriber a: expected %v got %v", f, got)
	}
	if got := <-b; got != f {
		t.Errorf("subscriber b: expected %v got %v", f, got)
	}
}

func TestPublishNeverBlocks(t *testing.T) {
	p := telemetry.NewPort()
	p.Subscribe(1) // never drained
	for i := 0; i < 100; i++ {
		p.Publish(telemetry.Pad(float64(i)))
	}
	// reaching here is the test
}

func TestRecordWritesCSV(t *testing.T) {
	p := telemetry.NewPort()
	ch := p.Subscribe(8)
	p.Publish(telemetry.Pad(1, 2))
	p.Publish(telemetry.Pad(3, 4))
	p.Close()

	var sb strings.Builder
	if err := telemetry.Record(&sb, ch); err != nil {
		t.Fatal(err)
	}
	lines := strings.Split(strings.TrimSpace(sb.String()), "\n")
	if len(lines) != 2 {
		t.Fatalf("expected 2 CSV records, got %d: %q", len(lines), sb.String())
	}
	if !strings.HasPrefix(lines[0], "1,2,0,") {
		t.Errorf("unexpected first record %q", lines[0])
	}
}
