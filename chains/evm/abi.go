package evm

import (
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
)

// AtomicSwapABI is the contract surface the relay depends on: the three
// lifecycle events plus initiate/complete/refund entry points and the
// getSwap accessor.
const AtomicSwapABI = `[
  {"type":"event","name":"SwapInitiated","inputs":[
    {"name":"swapId","type":"bytes32","indexed":true},
    {"name":"initiator","type":"address","indexed":true},
    {"name":"participant","type":"address","indexed":true},
    {"name":"token","type":"address","indexed":false},
    {"name":"amount","type":"uint256","indexed":false},
    {"name":"hashlock","type":"bytes32","indexed":false},
    {"name":"timelock","type":"uint256","indexed":false},
    {"name":"counterpartyRecipient","type":"string","indexed":false}]},
  {"type":"event","name":"SwapCompleted","inputs":[
    {"name":"swapId","type":"bytes32","indexed":true},
    {"name":"secret","type":"bytes32","indexed":false}]},
  {"type":"event","name":"SwapRefunded","inputs":[
    {"name":"swapId","type":"bytes32","indexed":true}]},
  {"type":"function","name":"initiateSwap","stateMutability":"payable","inputs":[
    {"name":"participant","type":"address"},
    {"name":"token","type":"address"},
    {"name":"amount","type":"uint256"},
    {"name":"hashlock","type":"bytes32"},
    {"name":"timelock","type":"uint256"},
    {"name":"counterpartyRecipient","type":"string"}],
   "outputs":[{"name":"swapId","type":"bytes32"}]},
  {"type":"function","name":"completeSwap","stateMutability":"nonpayable","inputs":[
    {"name":"swapId","type":"bytes32"},
    {"name":"secret","type":"bytes32"}],"outputs":[]},
  {"type":"function","name":"refundSwap","stateMutability":"nonpayable","inputs":[
    {"name":"swapId","type":"bytes32"}],"outputs":[]},
  {"type":"function","name":"getSwap","stateMutability":"view","inputs":[
    {"name":"swapId","type":"bytes32"}],
   "outputs":[
    {"name":"initiator","type":"address"},
    {"name":"participant","type":"address"},
    {"name":"token","type":"address"},
    {"name":"amount","type":"uint256"},
    {"name":"hashlock","type":"bytes32"},
    {"name":"timelock","type":"uint256"},
    {"name":"state","type":"uint8"},
    {"name":"secret","type":"bytes32"}]}
]`

// Event topic hashes for subscription filters and log dispatch.
var (
	swapInitiatedTopic = crypto.Keccak256Hash([]byte("SwapInitiated(bytes32,address,address,address,uint256,bytes32,uint256,string)"))
	swapCompletedTopic = crypto.Keccak256Hash([]byte("SwapCompleted(bytes32,bytes32)"))
	swapRefundedTopic  = crypto.Keccak256Hash([]byte("SwapRefunded(bytes32)"))
)

// swapTopics is the topic filter covering all three lifecycle events.
var swapTopics = []common.Hash{swapInitiatedTopic, swapCompletedTopic, swapRefundedTopic}

// parseABI parses the embedded contract ABI. The input is a compile-time
// constant, so a parse failure is a programming error.
func parseABI() (abi.ABI, error) {
	return abi.JSON(strings.NewReader(AtomicSwapABI))
}
