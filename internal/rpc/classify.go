package rpc

// Class is how the Router dispatches a given JSON-RPC method, per spec §4.3.
type Class int

const (
	ClassBlocked Class = iota
	ClassNotImplemented
	ClassLocal
	ClassPrivateFanout
	ClassRaceFanout
	ClassBalancedCached
)

// classification table, grounded on original_source/web3_proxy/src/app.rs's
// method match arms (the Rust source's exact method lists, reproduced
// verbatim since spec.md §4.3 only gives representative examples).
var methodClass = map[string]Class{
	// administrative / debug-mutation / mining / personal-key / whisper /
	// compilation — blocked.
	"admin_addPeer": ClassBlocked, "admin_datadir": ClassBlocked,
	"admin_startRPC": ClassBlocked, "admin_startWS": ClassBlocked,
	"admin_stopRPC": ClassBlocked, "admin_stopWS": ClassBlocked,
	"db_getHex": ClassBlocked, "db_getString": ClassBlocked,
	"db_putHex": ClassBlocked, "db_putString": ClassBlocked,
	"debug_chaindbCompact": ClassBlocked, "debug_freezeClient": ClassBlocked,
	"debug_goTrace": ClassBlocked, "debug_mutexProfile": ClassBlocked,
	"debug_setBlockProfileRate": ClassBlocked, "debug_setGCPercent": ClassBlocked,
	"debug_setHead": ClassBlocked, "debug_setMutexProfileFraction": ClassBlocked,
	"debug_standardTraceBlockToFile":    ClassBlocked,
	"debug_standardTraceBadBlockToFile": ClassBlocked,
	"debug_startCPUProfile":             ClassBlocked,
	"debug_startGoTrace":                ClassBlocked,
	"debug_stopCPUProfile":              ClassBlocked,
	"debug_stopGoTrace":                 ClassBlocked,
	"debug_writeBlockProfile":           ClassBlocked,
	"debug_writeMemProfile":             ClassBlocked,
	"debug_writeMutexProfile":           ClassBlocked,
	"eth_compileLLL": ClassBlocked, "eth_compileSerpent": ClassBlocked,
	"eth_compileSolidity": ClassBlocked, "eth_getCompilers": ClassBlocked,
	"eth_sendTransaction": ClassBlocked, "eth_sign": ClassBlocked,
	"eth_signTransaction": ClassBlocked, "eth_submitHashrate": ClassBlocked,
	"eth_submitWork": ClassBlocked,
	"les_addBalance": ClassBlocked, "les_setClientParams": ClassBlocked,
	"les_setDefaultParams": ClassBlocked,
	"miner_setExtra": ClassBlocked, "miner_setGasPrice": ClassBlocked,
	"miner_start": ClassBlocked, "miner_stop": ClassBlocked,
	"miner_setEtherbase": ClassBlocked, "miner_setGasLimit": ClassBlocked,
	"personal_importRawKey": ClassBlocked, "personal_listAccounts": ClassBlocked,
	"personal_lockAccount": ClassBlocked, "personal_newAccount": ClassBlocked,
	"personal_unlockAccount": ClassBlocked, "personal_sendTransaction": ClassBlocked,
	"personal_sign": ClassBlocked, "personal_ecRecover": ClassBlocked,
	"shh_addToGroup": ClassBlocked, "shh_getFilterChanges": ClassBlocked,
	"shh_getMessages": ClassBlocked, "shh_hasIdentity": ClassBlocked,
	"shh_newFilter": ClassBlocked, "shh_newGroup": ClassBlocked,
	"shh_newIdentity": ClassBlocked, "shh_post": ClassBlocked,
	"shh_uninstallFilter": ClassBlocked, "shh_version": ClassBlocked,

	// filter methods — not yet implemented.
	"eth_getFilterChanges": ClassNotImplemented, "eth_getFilterLogs": ClassNotImplemented,
	"eth_newBlockFilter": ClassNotImplemented, "eth_newFilter": ClassNotImplemented,
	"eth_newPendingTransactionFilter": ClassNotImplemented, "eth_uninstallFilter": ClassNotImplemented,

	// answered locally, no backend call.
	"eth_accounts": ClassLocal, "eth_coinbase": ClassLocal,
	"eth_hashrate": ClassLocal, "eth_mining": ClassLocal,
	"eth_syncing": ClassLocal, "net_listening": ClassLocal,
	"net_peerCount": ClassLocal, "eth_blockNumber": ClassLocal,
	"web3_clientVersion": ClassLocal, "web3_sha3": ClassLocal,

	// private-pool fan-out.
	"eth_sendRawTransaction": ClassPrivateFanout,

	// race fan-out.
	"eth_getTransactionByHash": ClassRaceFanout, "eth_getTransactionReceipt": ClassRaceFanout,
}

// ClassifyMethod returns how the Router should dispatch method.
// Unknown methods default to ClassBalancedCached, matching the Rust
// source's final catch-all match arm.
func ClassifyMethod(method string) Class {
	if c, ok := methodClass[method]; ok {
		return c
	}
	return ClassBalancedCached
}

// methodsWithBlockParam records, for methods whose result depends on a
// specific block, which positional parameter index carries the block
// reference (tag or number). Methods absent from this map are treated as
// mempool-dependent (uncacheable) unless they're eth_getLogs, which is
// special-cased in minblock.go.
var methodsWithBlockParam = map[string]int{
	"eth_getBalance":                  1,
	"eth_getCode":                     1,
	"eth_getTransactionCount":         1,
	"eth_getStorageAt":                2,
	"eth_call":                        1,
	"eth_estimateGas":                 1,
	"eth_getBlockByNumber":            0,
	"eth_getBlockTransactionCountByNumber": 0,
	"eth_getUncleCountByBlockNumber":  0,
	"eth_getUncleByBlockNumberAndIndex": 0,
	"eth_getTransactionByBlockNumberAndIndex": 0,
}

// BlockParamIndex reports the parameter index holding a block tag/number
// for method, and whether that method has one at all.
func BlockParamIndex(method string) (idx int, ok bool) {
	idx, ok = methodsWithBlockParam[method]
	return
}

// RequiresArchive reports whether method needs an archive-capable backend.
func RequiresArchive(method string) bool {
	switch method {
	case "trace_call", "trace_block", "trace_filter", "trace_transaction",
		"trace_rawTransaction", "trace_replayBlockTransactions",
		"trace_replayTransaction", "debug_traceTransaction",
		"debug_traceBlockByNumber", "debug_traceBlockByHash", "debug_traceCall":
		return true
	default:
		return false
	}
}

// RequiresTrace reports whether method is a trace_* method.
func RequiresTrace(method string) bool {
	return len(method) > 6 && method[:6] == "trace_"
}

// RequiresDebug reports whether method is a debug_* method.
func RequiresDebug(method string) bool {
	return len(method) > 6 && method[:6] == "debug_"
}
