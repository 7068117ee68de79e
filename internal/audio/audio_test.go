package audio

import (
	"encoding/binary"
	"os"
	"path/filepath"
	"testing"
)

func TestEncodeWAVHeader(t *testing.T) {
	pcm := make([]byte, 320)
	wav, err := EncodeWAVPCM16LE(pcm, 0)
	if err != nil {
		t.Fatalf("EncodeWAVPCM16LE() error = %v", err)
	}
	if !IsWAV(wav) {
		t.Fatalf("IsWAV() = false for encoded output")
	}
	if len(wav) != 44+len(pcm) {
		t.Fatalf("len = %d, want %d", len(wav), 44+len(pcm))
	}
	if rate := binary.LittleEndian.Uint32(wav[24:28]); rate != TelephonySampleRate {
		t.Fatalf("sample rate = %d, want %d", rate, TelephonySampleRate)
	}
}

func TestNormalizeRecordingDecodesMuLaw(t *testing.T) {
	ulaw := []byte{0xff, 0x7f, 0x00, 0x80}
	wav, err := NormalizeRecording(ulaw, "audio/basic")
	if err != nil {
		t.Fatalf("NormalizeRecording() error = %v", err)
	}
	if !IsWAV(wav) {
		t.Fatalf("expected WAV output")
	}
	if got := binary.LittleEndian.Uint32(wav[40:44]); got != uint32(2*len(ulaw)) {
		t.Fatalf("data size = %d, want %d", got, 2*len(ulaw))
	}

	passthrough, err := NormalizeRecording(wav, "audio/basic")
	if err != nil || len(passthrough) != len(wav) {
		t.Fatalf("WAV input should pass through, err = %v", err)
	}

	if _, err := NormalizeRecording(nil, "audio/wav"); err != ErrEmptyAudio {
		t.Fatalf("error = %v, want %v", err, ErrEmptyAudio)
	}
}

func TestFileStoreSaveAndRelease(t *testing.T) {
	store, err := NewFileStore(filepath.Join(t.TempDir(), "audio"))
	if err != nil {
		t.Fatalf("NewFileStore() error = %v", err)
	}

	recPath, err := store.Save(RecordingName("CA1"), []byte("rec"))
	if err != nil {
		t.Fatalf("Save() error = %v", err)
	}
	replyPath, err := store.Save(ReplyName("CA1"), []byte("reply"))
	if err != nil {
		t.Fatalf("Save() error = %v", err)
	}
	otherPath, err := store.Save(ReplyName("CA2"), []byte("other"))
	if err != nil {
		t.Fatalf("Save() error = %v", err)
	}

	if err := store.Release("CA1"); err != nil {
		t.Fatalf("Release() error = %v", err)
	}
	if err := store.Release("CA1"); err != nil {
		t.Fatalf("second Release() error = %v", err)
	}
	for _, p := range []string{recPath, replyPath} {
		if _, err := os.Stat(p); !os.IsNotExist(err) {
			t.Fatalf("%s still exists", p)
		}
	}
	if _, err := os.Stat(otherPath); err != nil {
		t.Fatalf("other call's file removed: %v", err)
	}
}

func TestFileStoreRejectsTraversal(t *testing.T) {
	store, err := NewFileStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewFileStore() error = %v", err)
	}
	for _, name := range []string{"../etc/passwd", "a/b.wav", "", ".hidden", "x..wav"} {
		if _, err := store.Path(name); err != ErrInvalidName {
			t.Fatalf("Path(%q) error = %v, want %v", name, err, ErrInvalidName)
		}
	}
}
