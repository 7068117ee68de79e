package voice

import (
	"context"
	"errors"
	"testing"
)

type stubTranscriber struct {
	calls int
	text  string
	err   error
}

func (s *stubTranscriber) Transcribe(context.Context, []byte) (string, error) {
	s.calls++
	return s.text, s.err
}

type stubSynthesizer struct {
	calls int
	out   []byte
	err   error
}

func (s *stubSynthesizer) Synthesize(context.Context, string) ([]byte, error) {
	s.calls++
	return s.out, s.err
}

func TestFailoverPairSwitchesToFallbackAndSticks(t *testing.T) {
	ctx := context.Background()
	primaryErr := errors.New("primary unavailable")

	primarySTT := &stubTranscriber{err: primaryErr}
	fallbackSTT := &stubTranscriber{text: "hello"}
	primaryTTS := &stubSynthesizer{err: primaryErr}
	fallbackTTS := &stubSynthesizer{out: []byte("wav")}

	stt, tts := NewFailoverPair(primarySTT, primaryTTS, fallbackSTT, fallbackTTS)

	if _, err := stt.Transcribe(ctx, []byte("a")); err != nil {
		t.Fatalf("Transcribe() unexpected error = %v", err)
	}
	if _, err := stt.Transcribe(ctx, []byte("b")); err != nil {
		t.Fatalf("Transcribe() on fallback unexpected error = %v", err)
	}
	if _, err := tts.Synthesize(ctx, "x"); err != nil {
		t.Fatalf("Synthesize() unexpected error = %v", err)
	}
	if _, err := tts.Synthesize(ctx, "y"); err != nil {
		t.Fatalf("Synthesize() on fallback unexpected error = %v", err)
	}

	if primarySTT.calls != 1 {
		t.Fatalf("primary STT calls = %d, want 1", primarySTT.calls)
	}
	if fallbackSTT.calls != 2 {
		t.Fatalf("fallback STT calls = %d, want 2", fallbackSTT.calls)
	}
	if primaryTTS.calls != 0 {
		t.Fatalf("primary TTS calls = %d, want 0 once fallback active", primaryTTS.calls)
	}
	if fallbackTTS.calls != 2 {
		t.Fatalf("fallback TTS calls = %d, want 2", fallbackTTS.calls)
	}
}

func TestFailoverPairRetriesPrimaryWhenFallbackFails(t *testing.T) {
	ctx := context.Background()
	primary := &stubTranscriber{err: errors.New("down")}
	fallback := &stubTranscriber{text: "from fallback"}
	stt, _ := NewFailoverPair(primary, &stubSynthesizer{}, fallback, &stubSynthesizer{})

	if got, _ := stt.Transcribe(ctx, nil); got != "from fallback" {
		t.Fatalf("Transcribe() = %q, want fallback text", got)
	}

	primary.err = nil
	primary.text = "from primary"
	fallback.err = errors.New("fallback down")
	got, err := stt.Transcribe(ctx, nil)
	if err != nil || got != "from primary" {
		t.Fatalf("Transcribe() = %q, %v; want primary text", got, err)
	}

	fallback.err = nil
	if got, _ := stt.Transcribe(ctx, nil); got != "from primary" {
		t.Fatalf("Transcribe() = %q, want primary to stay active", got)
	}
}

func TestFailoverPairDoesNotFailOverOnCancel(t *testing.T) {
	primary := &stubSynthesizer{err: context.Canceled}
	fallback := &stubSynthesizer{out: []byte("wav")}
	_, tts := NewFailoverPair(&stubTranscriber{}, primary, &stubTranscriber{}, fallback)

	if _, err := tts.Synthesize(context.Background(), "x"); !errors.Is(err, context.Canceled) {
		t.Fatalf("Synthesize() error = %v, want context.Canceled", err)
	}
	if fallback.calls != 0 {
		t.Fatalf("fallback calls = %d, want 0", fallback.calls)
	}
}

func TestFailoverPairBothFail(t *testing.T) {
	stt, _ := NewFailoverPair(
		&stubTranscriber{err: errors.New("a")}, &stubSynthesizer{},
		&stubTranscriber{err: ErrTranscription}, &stubSynthesizer{},
	)
	if _, err := stt.Transcribe(context.Background(), nil); !errors.Is(err, ErrTranscription) {
		t.Fatalf("Transcribe() error = %v, want ErrTranscription", err)
	}
}
