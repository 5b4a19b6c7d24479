package router

import (
	"strconv"
	"strings"

	"github.com/sambacha/web3-proxy/internal/rpc"
)

// Block tags resolved against HeadNumbers, per spec §4.3 min-block
// computation.
const (
	tagLatest    = "latest"
	tagPending   = "pending"
	tagEarliest  = "earliest"
	tagSafe      = "safe"
	tagFinalized = "finalized"
)

// HeadNumbers bundles the head numbers a block-tag resolution might need.
// This proxy derives Safe and Finalized from the same consensus-head
// computation as Consensus (no separate beacon-chain checkpoint tracker is
// part of this core; see DESIGN.md's Open Question decisions).
type HeadNumbers struct {
	Consensus uint64
	Safe      uint64
	Finalized uint64
}

// MinBlockResult is the outcome of computing the minimum block height a
// request needs, per spec §4.3.
type MinBlockResult struct {
	Number    uint64
	Cacheable bool
}

// ComputeMinBlock implements spec §4.3's min-block computation: inspect
// the method's block parameter (or, for eth_getLogs, both bounds),
// resolve any symbolic tag against heads, and rewrite "latest" in place so
// concurrent callers converge on the same cache key.
func ComputeMinBlock(method string, params []any, heads HeadNumbers) MinBlockResult {
	if method == "eth_getLogs" {
		return computeLogsMinBlock(params, heads)
	}

	idx, ok := rpc.BlockParamIndex(method)
	if !ok {
		return MinBlockResult{Number: heads.Consensus, Cacheable: false}
	}
	if idx >= len(params) {
		return MinBlockResult{Number: heads.Consensus, Cacheable: true}
	}

	number, rewriteTo, cacheable := resolveTag(params[idx], heads)
	if rewriteTo != nil {
		params[idx] = rewriteTo
	}
	return MinBlockResult{Number: number, Cacheable: cacheable}
}

func computeLogsMinBlock(params []any, heads HeadNumbers) MinBlockResult {
	if len(params) == 0 {
		return MinBlockResult{Number: heads.Consensus, Cacheable: true}
	}
	filter, ok := params[0].(map[string]any)
	if !ok {
		return MinBlockResult{Number: heads.Consensus, Cacheable: true}
	}

	var maxNumber uint64
	cacheable := true
	for _, field := range [...]string{"fromBlock", "toBlock"} {
		raw, present := filter[field]
		if !present {
			continue
		}
		number, rewriteTo, c := resolveTag(raw, heads)
		if !c {
			cacheable = false
		}
		if number > maxNumber {
			maxNumber = number
		}
		if rewriteTo != nil {
			filter[field] = rewriteTo
		}
	}
	return MinBlockResult{Number: maxNumber, Cacheable: cacheable}
}

// resolveTag resolves one JSON-decoded block parameter. rewriteTo is
// non-nil only when the parameter should be rewritten in place (the
// "latest", "safe", and "finalized" tags, which resolve to a stable
// numeric height); "pending" is deliberately never rewritten or cached,
// since its meaning changes from one moment to the next.
func resolveTag(param any, heads HeadNumbers) (number uint64, rewriteTo any, cacheable bool) {
	s, isString := param.(string)
	if !isString {
		return heads.Consensus, nil, true
	}

	switch strings.ToLower(s) {
	case tagLatest:
		return heads.Consensus, hexUint(heads.Consensus), true
	case tagPending:
		return heads.Consensus, nil, false
	case tagEarliest:
		return 0, nil, true
	case tagSafe:
		return heads.Safe, hexUint(heads.Safe), true
	case tagFinalized:
		return heads.Finalized, hexUint(heads.Finalized), true
	default:
		n, err := parseHexUint(s)
		if err != nil {
			return heads.Consensus, nil, true
		}
		return n, nil, true
	}
}

func hexUint(n uint64) string {
	return "0x" + strconv.FormatUint(n, 16)
}

func parseHexUint(s string) (uint64, error) {
	s = strings.TrimPrefix(s, "0x")
	s = strings.TrimPrefix(s, "0X")
	return strconv.ParseUint(s, 16, 64)
}
