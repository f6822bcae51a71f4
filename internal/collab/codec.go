package collab

import (
	"encoding/json"

	"github.com/longlee218/goclass-editor/internal/scene"
	"github.com/longlee218/goclass-editor/internal/seal"
)

// codec seals and opens room payloads. The room key lives here and
// nowhere else in the session; envelopes, the relay and the snapshot
// cache only ever see sealed bytes.
type codec struct {
	key seal.Key
}

type scenePayload struct {
	Elements []scene.Element `json:"elements"`
}

type filePayload struct {
	MimeType string `json:"mimeType"`
	Data     []byte `json:"data"`
}

func (c codec) encodeScene(elements []scene.Element) ([]byte, error) {
	plain, err := json.Marshal(scenePayload{Elements: elements})
	if err != nil {
		return nil, err
	}
	return c.key.Seal(plain)
}

func (c codec) decodeScene(sealed []byte) ([]scene.Element, error) {
	plain, err := c.key.Open(sealed)
	if err != nil {
		return nil, err
	}
	var p scenePayload
	if err := json.Unmarshal(plain, &p); err != nil {
		return nil, err
	}
	return p.Elements, nil
}

func (c codec) encodeFile(data []byte, mimeType string) ([]byte, error) {
	plain, err := json.Marshal(filePayload{MimeType: mimeType, Data: data})
	if err != nil {
		return nil, err
	}
	return c.key.Seal(plain)
}

func (c codec) decodeFile(sealed []byte) ([]byte, string, error) {
	plain, err := c.key.Open(sealed)
	if err != nil {
		return nil, "", err
	}
	var p filePayload
	if err := json.Unmarshal(plain, &p); err != nil {
		return nil, "", err
	}
	return p.Data, p.MimeType, nil
}
