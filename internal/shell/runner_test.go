package shell

import (
	"errors"
	"io"
	"testing"
)

func TestExecRunner_Run(t *testing.T) {
	r := ExecRunner{}

	out, err := r.Run("echo", "hello")
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if out != "hello\n" {
		t.Errorf("Run output = %q, want %q", out, "hello\n")
	}
}

func TestExecRunner_RunError(t *testing.T) {
	r := ExecRunner{}

	_, err := r.Run("false")
	if err == nil {
		t.Fatal("expected error from failing command")
	}
}

func TestExecRunner_Stream(t *testing.T) {
	r := ExecRunner{}

	stdout, stop, err := r.Stream("echo", "streamed")
	if err != nil {
		t.Fatalf("Stream: %v", err)
	}
	data, err := io.ReadAll(stdout)
	if err != nil {
		t.Fatalf("ReadAll: %v", err)
	}
	if string(data) != "streamed\n" {
		t.Errorf("stream output = %q, want %q", data, "streamed\n")
	}
	if err := stop(); err != nil {
		t.Errorf("stop: %v", err)
	}
}

func TestMockRunner_Run(t *testing.T) {
	m := NewMockRunner()
	m.Outputs["arecord"] = "recording"
	m.Errors["ffmpeg"] = errors.New("boom")

	out, err := m.Run("arecord", "-c1", "out.wav")
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if out != "recording" {
		t.Errorf("Run output = %q, want %q", out, "recording")
	}

	if _, err := m.Run("ffmpeg", "-i", "in.wav"); err == nil {
		t.Error("expected canned error for ffmpeg")
	}

	if len(m.Commands) != 2 {
		t.Fatalf("recorded %d commands, want 2", len(m.Commands))
	}
	if !m.Ran("arecord", "-c1") {
		t.Error("Ran(arecord, -c1) = false, want true")
	}
	if m.Ran("arecord", "-c2") {
		t.Error("Ran(arecord, -c2) = true, want false")
	}
}

func TestMockRunner_RunFunc(t *testing.T) {
	m := NewMockRunner()
	m.RunFunc = func(name string, args ...string) (string, error) {
		return name + "!", nil
	}

	out, err := m.Run("mount")
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if out != "mount!" {
		t.Errorf("Run output = %q, want %q", out, "mount!")
	}
}

func TestMockRunner_Stream(t *testing.T) {
	m := NewMockRunner()
	m.StreamData = []byte("raw pcm")

	stdout, stop, err := m.Stream("arecord", "-t", "raw")
	if err != nil {
		t.Fatalf("Stream: %v", err)
	}
	data, _ := io.ReadAll(stdout)
	if string(data) != "raw pcm" {
		t.Errorf("stream data = %q, want %q", data, "raw pcm")
	}
	if err := stop(); err != nil {
		t.Errorf("stop: %v", err)
	}
	if m.Stopped != 1 {
		t.Errorf("Stopped = %d, want 1", m.Stopped)
	}
}
