package syncproto

import "encoding/base64"

func encodeEntry(state []byte) string {
	return base64.StdEncoding.EncodeToString(state)
}

func decodeEntry(value string) ([]byte, error) {
	return base64.StdEncoding.DecodeString(value)
}
