package audio

import (
	"encoding/base64"
	"encoding/binary"
	"strings"

	"hotline-server/pkg/errors"
)

// Encoding identifies the wire encoding of an inbound audio frame.
type Encoding string

const (
	// EncodingMuLaw is G.711 mu-law, 8-bit 8kHz telephony audio. This is
	// what Twilio media streams carry.
	EncodingMuLaw Encoding = "mulaw"
	// EncodingALaw is G.711 A-law.
	EncodingALaw Encoding = "alaw"
	// EncodingLinear16 is 16-bit little-endian PCM passed through as-is.
	EncodingLinear16 Encoding = "l16"
	// EncodingWAV is a RIFF/WAVE container, typically browser-captured audio.
	EncodingWAV Encoding = "wav"
	// EncodingAuto sniffs between WAV containers and raw mu-law payloads.
	EncodingAuto Encoding = "auto"
)

var (
	muLawDecodeTable [256]int16
	aLawDecodeTable  [256]int16
)

func init() {
	for i := 0; i < 256; i++ {
		muLawDecodeTable[i] = decodeMuLawSample(byte(i))
		aLawDecodeTable[i] = decodeALawSample(byte(i))
	}
}

// DecodePayload converts an inbound media payload into 16-bit little-endian
// mono PCM. The payload is base64, optionally wrapped in a data URL. Decoding
// is stateless and deterministic; a malformed payload yields ErrDecodeFailed
// and the caller drops the frame.
func DecodePayload(payload string, encoding Encoding) ([]byte, error) {
	raw, err := decodeBase64(payload)
	if err != nil {
		return nil, err
	}
	return DecodeFrame(raw, encoding)
}

// DecodeFrame converts raw frame bytes into 16-bit little-endian mono PCM.
func DecodeFrame(raw []byte, encoding Encoding) ([]byte, error) {
	if len(raw) == 0 {
		return nil, errors.NewDecodeError("empty frame")
	}

	switch encoding {
	case EncodingMuLaw, "":
		return muLawToPCM(raw), nil
	case EncodingALaw:
		return aLawToPCM(raw), nil
	case EncodingLinear16:
		if len(raw)%2 != 0 {
			return nil, errors.NewDecodeError("odd byte count for 16-bit PCM")
		}
		return append([]byte(nil), raw...), nil
	case EncodingWAV:
		return wavToPCM(raw)
	case EncodingAuto:
		if isRIFF(raw) {
			return wavToPCM(raw)
		}
		return muLawToPCM(raw), nil
	default:
		return nil, errors.NewDecodeError("unsupported encoding: " + string(encoding))
	}
}

func decodeBase64(payload string) ([]byte, error) {
	// Browser captures arrive as data URLs, telephony payloads as bare base64.
	if strings.HasPrefix(payload, "data:") {
		idx := strings.IndexByte(payload, ',')
		if idx < 0 {
			return nil, errors.NewDecodeError("data URL missing comma separator")
		}
		payload = payload[idx+1:]
	}

	raw, err := base64.StdEncoding.DecodeString(payload)
	if err != nil {
		return nil, errors.NewDecodeError("invalid base64 payload")
	}
	return raw, nil
}

func isRIFF(raw []byte) bool {
	return len(raw) >= 12 && string(raw[0:4]) == "RIFF" && string(raw[8:12]) == "WAVE"
}

// wavToPCM extracts PCM samples from a RIFF/WAVE container. Mu-law encoded
// WAV data is decoded; PCM16 data is returned verbatim.
func wavToPCM(raw []byte) ([]byte, error) {
	if !isRIFF(raw) {
		return nil, errors.NewDecodeError("missing RIFF/WAVE header")
	}

	var audioFormat uint16
	haveFmt := false

	// Walk the chunk list. Chunks are word-aligned.
	offset := 12
	for offset+8 <= len(raw) {
		chunkID := string(raw[offset : offset+4])
		chunkSize := int(binary.LittleEndian.Uint32(raw[offset+4 : offset+8]))
		body := offset + 8
		if chunkSize < 0 || body+chunkSize > len(raw) {
			return nil, errors.NewDecodeError("truncated WAV chunk: " + chunkID)
		}

		switch chunkID {
		case "fmt ":
			if chunkSize < 16 {
				return nil, errors.NewDecodeError("short fmt chunk")
			}
			audioFormat = binary.LittleEndian.Uint16(raw[body : body+2])
			haveFmt = true
		case "data":
			if !haveFmt {
				return nil, errors.NewDecodeError("data chunk before fmt chunk")
			}
			data := raw[body : body+chunkSize]
			switch audioFormat {
			case 1: // PCM
				if len(data)%2 != 0 {
					return nil, errors.NewDecodeError("odd PCM data length")
				}
				return append([]byte(nil), data...), nil
			case 7: // mu-law
				return muLawToPCM(data), nil
			case 6: // A-law
				return aLawToPCM(data), nil
			default:
				return nil, errors.NewDecodeError("unsupported WAV audio format")
			}
		}

		offset = body + chunkSize
		if chunkSize%2 == 1 {
			offset++
		}
	}

	return nil, errors.NewDecodeError("WAV container has no data chunk")
}

func muLawToPCM(payload []byte) []byte {
	out := make([]byte, len(payload)*2)
	for i, b := range payload {
		sample := muLawDecodeTable[b]
		out[2*i] = byte(sample)
		out[2*i+1] = byte(sample >> 8)
	}
	return out
}

func aLawToPCM(payload []byte) []byte {
	out := make([]byte, len(payload)*2)
	for i, b := range payload {
		sample := aLawDecodeTable[b]
		out[2*i] = byte(sample)
		out[2*i+1] = byte(sample >> 8)
	}
	return out
}

func decodeMuLawSample(uval byte) int16 {
	uval = ^uval
	sign := int16(uval & 0x80)
	exponent := (uval >> 4) & 0x07
	mantissa := uval & 0x0F
	magnitude := ((int16(mantissa) << 3) + 0x84) << exponent
	magnitude -= 0x84
	if sign != 0 {
		return -magnitude
	}
	return magnitude
}

func decodeALawSample(aval byte) int16 {
	aval ^= 0x55
	sign := int16(aval & 0x80)
	exponent := (aval >> 4) & 0x07
	mantissa := aval & 0x0F

	var magnitude int16
	switch exponent {
	case 0:
		magnitude = (int16(mantissa) << 4) + 8
	case 1:
		magnitude = (int16(mantissa) << 5) + 0x108
	default:
		magnitude = ((int16(mantissa) << 5) + 0x108) << (exponent - 1)
	}

	if sign != 0 {
		return -magnitude
	}
	return magnitude
}
