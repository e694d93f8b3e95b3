package tustest

import (
	"encoding/base64"
	"fmt"
	"strings"
)

func decodeMetadata(h string) (map[string]string, error) {
	m := map[string]string{}
	if strings.TrimSpace(h) == "" {
		return m, nil
	}
	for _, pair := range strings.Split(h, ",") {
		kv := strings.SplitN(strings.TrimSpace(pair), " ", 2)
		if len(kv) == 1 {
			m[kv[0]] = ""
			continue
		}
		v, err := base64.StdEncoding.DecodeString(kv[1])
		if err != nil {
			return nil, fmt.Errorf("metadata %s: %w", kv[0], err)
		}
		m[kv[0]] = string(v)
	}
	return m, nil
}
