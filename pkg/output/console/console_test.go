package console

import (
	"bytes"
	"io"
	"os"
	"testing"
	"time"

	"hx711-scale/pkg/device"
)

func captureStdout(f func()) string {
	r, w, _ := os.Pipe()
	stdout := os.Stdout
	os.Stdout = w
	outC := make(chan string)
	go func() {
		var buf bytes.Buffer
		_, _ = io.Copy(&buf, r)
		outC <- buf.String()
	}()
	f()
	_ = w.Close()
	os.Stdout = stdout
	return <-outC
}

func TestConsolePublish(t *testing.T) {
	c := NewConsole(2)
	ts := time.Date(2026, 8, 30, 10, 15, 0, 0, time.UTC)
	reading := device.Reading{Raw: 5000, Grams: 1000.0, Newtons: 9.80665, SampleRateHz: 5, Timestamp: ts}
	out := captureStdout(func() { _ = c.Publish(reading) })
	want := "2026-08-30T10:15:00Z raw=5000 grams=1000.00 newtons=9.81 hz=5.0\n"
	if out != want {
		t.Fatalf("console output mismatch:\n got: %q\nwant: %q", out, want)
	}
}

func TestConsoleDecimals(t *testing.T) {
	c := NewConsole(0)
	ts := time.Date(2026, 8, 30, 10, 15, 0, 0, time.UTC)
	reading := device.Reading{Raw: 10, Grams: 1.49, Newtons: 0.0146, SampleRateHz: 1, Timestamp: ts}
	out := captureStdout(func() { _ = c.Publish(reading) })
	want := "2026-08-30T10:15:00Z raw=10 grams=1 newtons=0 hz=1.0\n"
	if out != want {
		t.Fatalf("console output mismatch:\n got: %q\nwant: %q", out, want)
	}
}
