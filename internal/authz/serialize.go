package authz

import (
	"encoding/json"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
)

func hexEncode(b []byte) string        { return hexutil.Encode(b) }
func hexDecode(s string) ([]byte, error) { return hexutil.Decode(s) }
func hexToAddress(s string) common.Address { return common.HexToAddress(s) }

type wireAuthorization struct {
	TaskID    string `json:"taskId"`
	Worker    string `json:"worker"`
	ExpiresAt uint64 `json:"expiresAt"`
	Nonce     uint64 `json:"nonce"`
	Signature string `json:"signature"`
	Signer    string `json:"signer"`
}

// Serialize encodes sa for transport to the worker's /authorize endpoint.
func Serialize(sa *SignedAuthorization) ([]byte, error) {
	w := wireAuthorization{
		TaskID:    hexEncode(sa.Payload.TaskID[:]),
		Worker:    sa.Payload.Worker.Hex(),
		ExpiresAt: sa.Payload.ExpiresAt,
		Nonce:     sa.Payload.Nonce,
		Signature: hexEncode(sa.Signature),
		Signer:    sa.Signer.Hex(),
	}
	return json.Marshal(w)
}

// Deserialize is the inverse of Serialize; Serialize ∘ Deserialize is the
// identity property spec §8 requires.
func Deserialize(data []byte) (*SignedAuthorization, error) {
	var w wireAuthorization
	if err := json.Unmarshal(data, &w); err != nil {
		return nil, err
	}

	taskIDBytes, err := hexDecode(w.TaskID)
	if err != nil {
		return nil, err
	}
	sigBytes, err := hexDecode(w.Signature)
	if err != nil {
		return nil, err
	}

	var taskID [32]byte
	copy(taskID[:], taskIDBytes)

	return &SignedAuthorization{
		Payload: Payload{
			TaskID:    taskID,
			Worker:    hexToAddress(w.Worker),
			ExpiresAt: w.ExpiresAt,
			Nonce:     w.Nonce,
		},
		Signature: sigBytes,
		Signer:    hexToAddress(w.Signer),
	}, nil
}
