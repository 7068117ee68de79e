package audio

import (
	"errors"
	"mime"
	"strings"

	"github.com/zaf/g711"
)

// ErrEmptyAudio is returned for zero-length recordings.
var ErrEmptyAudio = errors.New("empty audio")

// MuLawToWAV decodes 8 kHz G.711 mu-law samples into a PCM16 WAV file.
func MuLawToWAV(ulaw []byte) ([]byte, error) {
	if len(ulaw) == 0 {
		return nil, ErrEmptyAudio
	}
	return EncodeWAVPCM16LE(g711.DecodeUlaw(ulaw), TelephonySampleRate)
}

// NormalizeRecording returns data as a WAV file. WAV input passes through;
// raw mu-law (audio/basic, audio/x-mulaw, audio/pcmu) is decoded. Other
// containers are returned unchanged for the transcriber to sniff.
func NormalizeRecording(data []byte, contentType string) ([]byte, error) {
	if len(data) == 0 {
		return nil, ErrEmptyAudio
	}
	if IsWAV(data) {
		return data, nil
	}
	mediaType, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		mediaType = strings.ToLower(strings.TrimSpace(contentType))
	}
	switch mediaType {
	case "audio/basic", "audio/x-mulaw", "audio/mulaw", "audio/pcmu":
		return MuLawToWAV(data)
	default:
		return data, nil
	}
}
