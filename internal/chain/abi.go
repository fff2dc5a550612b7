package chain

import (
	"strings"

	ethabi "github.com/ethereum/go-ethereum/accounts/abi"
)

// escrowABIJSON mirrors the escrow contract surface named in spec §6:
// TaskCreated/TaskCompleted/TaskRefunded events, tasks/depositTask/
// submitWork/refundAndSlash methods. No Solidity source ships with this
// repo (the contract is an external collaborator); the ABI is hand-written
// from the method and event signatures the spec pins down exactly.
const escrowABIJSON = `[
	{"type":"event","name":"TaskCreated","inputs":[
		{"name":"taskId","type":"bytes32","indexed":true},
		{"name":"master","type":"address","indexed":false},
		{"name":"worker","type":"address","indexed":false},
		{"name":"amount","type":"uint256","indexed":false}
	]},
	{"type":"event","name":"TaskCompleted","inputs":[
		{"name":"taskId","type":"bytes32","indexed":true},
		{"name":"result","type":"bytes","indexed":false}
	]},
	{"type":"event","name":"TaskRefunded","inputs":[
		{"name":"taskId","type":"bytes32","indexed":true}
	]},
	{"type":"function","name":"tasks","stateMutability":"view","inputs":[
		{"name":"taskId","type":"bytes32"}
	],"outputs":[
		{"name":"master","type":"address"},
		{"name":"worker","type":"address"},
		{"name":"amount","type":"uint256"},
		{"name":"deadline","type":"uint256"},
		{"name":"status","type":"uint8"}
	]},
	{"type":"function","name":"depositTask","stateMutability":"payable","inputs":[
		{"name":"taskId","type":"bytes32"},
		{"name":"worker","type":"address"},
		{"name":"duration","type":"uint256"}
	],"outputs":[]},
	{"type":"function","name":"submitWork","stateMutability":"nonpayable","inputs":[
		{"name":"taskId","type":"bytes32"},
		{"name":"resultHash","type":"bytes"}
	],"outputs":[]},
	{"type":"function","name":"refundAndSlash","stateMutability":"nonpayable","inputs":[
		{"name":"taskId","type":"bytes32"}
	],"outputs":[]}
]`

// registryABIJSON mirrors the reputation registry's isWorkerActive and
// slashReputation surface.
const registryABIJSON = `[
	{"type":"function","name":"isWorkerActive","stateMutability":"view","inputs":[
		{"name":"worker","type":"address"}
	],"outputs":[{"name":"active","type":"bool"}]},
	{"type":"function","name":"slashReputation","stateMutability":"nonpayable","inputs":[
		{"name":"worker","type":"address"},
		{"name":"master","type":"address"}
	],"outputs":[]}
]`

func mustParseABI(raw string) ethabi.ABI {
	parsed, err := ethabi.JSON(strings.NewReader(raw))
	if err != nil {
		panic("chain: invalid embedded ABI: " + err.Error())
	}
	return parsed
}

var (
	escrowABI   = mustParseABI(escrowABIJSON)
	registryABI = mustParseABI(registryABIJSON)
)
