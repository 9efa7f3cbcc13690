package rpc

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/svmlabs/solana-validator-exporter/pkg/slog"
	"go.uber.org/zap"
)

type (
	// MockServer is an in-process Solana RPC server for tests. Fixed-shape
	// data (slots, balances, rewards, validators) is served from typed maps;
	// anything else falls through to the easy results.
	MockServer struct {
		server   *http.Server
		listener net.Listener
		mu       sync.RWMutex
		logger   *zap.SugaredLogger

		balances    map[string]int64
		easyResults map[string]any

		// inflationRewards are keyed by epoch, then votekey. A missing
		// entry is served as JSON null, matching a not-yet-finalized reward.
		inflationRewards map[int64]map[string]int64

		SlotInfos      map[int64]MockSlotInfo
		validatorInfos map[string]MockValidatorInfo
	}

	MockBlockInfo struct {
		Fee          int64
		ComputeUnits int64
		Transactions [][]string
	}

	MockSlotInfo struct {
		Leader string
		// Block is nil for a skipped slot.
		Block *MockBlockInfo
	}

	MockValidatorInfo struct {
		Votekey    string
		Stake      int64
		LastVote   int64
		Commission int
		Delinquent bool
	}
)

// NewMockServer creates a new mock server instance
func NewMockServer(
	easyResults map[string]any,
	balances map[string]int64,
	inflationRewards map[int64]map[string]int64,
	slotInfos map[int64]MockSlotInfo,
	validatorInfos map[string]MockValidatorInfo,
) (*MockServer, error) {
	listener, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		return nil, fmt.Errorf("failed to create listener: %v", err)
	}

	ms := &MockServer{
		listener:         listener,
		logger:           slog.Get(),
		easyResults:      easyResults,
		balances:         balances,
		inflationRewards: inflationRewards,
		SlotInfos:        slotInfos,
		validatorInfos:   validatorInfos,
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/", ms.handleRPCRequest)

	ms.server = &http.Server{Handler: mux}

	go func() {
		_ = ms.server.Serve(listener)
	}()

	return ms, nil
}

// URL returns the URL of the mock server
func (s *MockServer) URL() string {
	return fmt.Sprintf("http://%s", s.listener.Addr().String())
}

// Close shuts down the mock server
func (s *MockServer) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return s.server.Shutdown(ctx)
}

func (s *MockServer) MustClose() {
	if err := s.Close(); err != nil {
		panic(err)
	}
}

// SetEasyResult sets the canned result served for a method.
func (s *MockServer) SetEasyResult(method string, result any) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.easyResults == nil {
		s.easyResults = make(map[string]any)
	}
	s.easyResults[method] = result
}

// SetBalance sets the lamport balance served for an address.
func (s *MockServer) SetBalance(address string, lamports int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.balances == nil {
		s.balances = make(map[string]int64)
	}
	s.balances[address] = lamports
}

// SetInflationReward sets the reward served for a votekey at an epoch.
func (s *MockServer) SetInflationReward(epoch int64, votekey string, lamports int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.inflationRewards == nil {
		s.inflationRewards = make(map[int64]map[string]int64)
	}
	if s.inflationRewards[epoch] == nil {
		s.inflationRewards[epoch] = make(map[string]int64)
	}
	s.inflationRewards[epoch][votekey] = lamports
}

// SetSlotInfo sets the slot info served for a slot.
func (s *MockServer) SetSlotInfo(slot int64, info MockSlotInfo) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.SlotInfos == nil {
		s.SlotInfos = make(map[int64]MockSlotInfo)
	}
	s.SlotInfos[slot] = info
}

// SetValidatorInfo sets the vote-account info served for a nodekey.
func (s *MockServer) SetValidatorInfo(nodekey string, info MockValidatorInfo) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.validatorInfos == nil {
		s.validatorInfos = make(map[string]MockValidatorInfo)
	}
	s.validatorInfos[nodekey] = info
}

func (s *MockServer) GetValidatorInfo(nodekey string) MockValidatorInfo {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.validatorInfos[nodekey]
}

func (s *MockServer) getResult(method string, params ...any) (any, *RPCError) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if method == "getBalance" && s.balances != nil {
		address := params[0].(string)
		result := map[string]any{
			"context": map[string]int{"slot": 1},
			"value":   s.balances[address],
		}
		return result, nil
	}

	if method == "getInflationReward" && s.inflationRewards != nil {
		addresses := params[0].([]any)
		config := params[1].(map[string]any)
		epoch := int64(config["epoch"].(float64))
		rewards := make([]any, len(addresses))
		for i, item := range addresses {
			address := item.(string)
			epochRewards, ok := s.inflationRewards[epoch]
			if !ok {
				// not finalized for this epoch, served as null
				continue
			}
			amount, ok := epochRewards[address]
			if !ok {
				continue
			}
			rewards[i] = map[string]int64{
				"amount":        amount,
				"epoch":         epoch,
				"effectiveSlot": epoch * 32,
				"postBalance":   amount + 100*LamportsInSol,
			}
		}
		return rewards, nil
	}

	if method == "getBlock" && s.SlotInfos != nil {
		slot := int64(params[0].(float64))
		slotInfo, ok := s.SlotInfos[slot]
		if !ok {
			s.logger.Warnf("no slot info for slot %d", slot)
			return nil, &RPCError{Code: BlockCleanedUpCode, Message: "Block cleaned up."}
		}
		if slotInfo.Block == nil {
			return nil, &RPCError{Code: SlotSkippedCode, Message: fmt.Sprintf("Slot %d was skipped", slot)}
		}
		var (
			transactions []map[string]any
			perTxUnits   int64
		)
		if n := int64(len(slotInfo.Block.Transactions)); n > 0 {
			perTxUnits = slotInfo.Block.ComputeUnits / n
		}
		for _, tx := range slotInfo.Block.Transactions {
			transactions = append(
				transactions,
				map[string]any{
					"transaction": map[string]map[string][]string{"message": {"accountKeys": tx}},
					"meta":        map[string]int64{"fee": 5000, "computeUnitsConsumed": perTxUnits},
				},
			)
		}
		rewards := []map[string]any{
			{"pubkey": slotInfo.Leader, "lamports": slotInfo.Block.Fee, "rewardType": "fee"},
		}
		return map[string]any{
			"blockhash":    fmt.Sprintf("blockhash-%d", slot),
			"parentSlot":   slot - 1,
			"blockTime":    1700000000 + slot,
			"blockHeight":  slot,
			"rewards":      rewards,
			"transactions": transactions,
		}, nil
	}

	if method == "getBlockProduction" && s.SlotInfos != nil {
		config := params[0].(map[string]any)
		identity, _ := config["identity"].(string)

		var (
			firstSlot, lastSlot int64
			first               = true
		)
		byIdentity := make(map[string][]int64)
		for slot, info := range s.SlotInfos {
			if first || slot < firstSlot {
				firstSlot = slot
			}
			if first || slot > lastSlot {
				lastSlot = slot
			}
			first = false
			if identity != "" && info.Leader != identity {
				continue
			}
			production := byIdentity[info.Leader]
			if production == nil {
				production = []int64{0, 0}
			}
			production[0]++
			if info.Block != nil {
				production[1]++
			}
			byIdentity[info.Leader] = production
		}

		blockProduction := map[string]any{
			"context": map[string]int{"slot": 1},
			"value": map[string]any{
				"byIdentity": byIdentity,
				"range":      map[string]int64{"firstSlot": firstSlot, "lastSlot": lastSlot},
			},
		}
		return blockProduction, nil
	}

	if method == "getLeaderSchedule" && s.SlotInfos != nil {
		config := params[1].(map[string]any)
		identity, _ := config["identity"].(string)

		schedule := make(map[string][]int64)
		for slot, info := range s.SlotInfos {
			if identity != "" && info.Leader != identity {
				continue
			}
			schedule[info.Leader] = append(schedule[info.Leader], slot)
		}
		for _, slots := range schedule {
			sortInt64s(slots)
		}
		return schedule, nil
	}

	if method == "getVoteAccounts" && s.validatorInfos != nil {
		config := params[0].(map[string]any)
		votePubkey, _ := config["votePubkey"].(string)

		var currentVoteAccounts, delinquentVoteAccounts []map[string]any
		for nodekey, info := range s.validatorInfos {
			if votePubkey != "" && info.Votekey != votePubkey {
				continue
			}
			voteAccount := map[string]any{
				"activatedStake": info.Stake,
				"commission":     info.Commission,
				"lastVote":       info.LastVote,
				"nodePubkey":     nodekey,
				"rootSlot":       0,
				"votePubkey":     info.Votekey,
			}
			if info.Delinquent {
				delinquentVoteAccounts = append(delinquentVoteAccounts, voteAccount)
			} else {
				currentVoteAccounts = append(currentVoteAccounts, voteAccount)
			}
		}
		voteAccounts := map[string][]map[string]any{
			"current":    currentVoteAccounts,
			"delinquent": delinquentVoteAccounts,
		}
		return voteAccounts, nil
	}

	// default is use easy results:
	result, ok := s.easyResults[method]
	if !ok {
		return nil, &RPCError{Code: MethodNotFoundCode, Message: "Method not found"}
	}
	// an easy result that is itself an rpc error is served as one, which lets
	// tests exercise structured node errors such as getHealth's unhealthy code
	if rpcErr, ok := result.(*RPCError); ok {
		return nil, rpcErr
	}
	return result, nil
}

func sortInt64s(values []int64) {
	for i := 1; i < len(values); i++ {
		for j := i; j > 0 && values[j-1] > values[j]; j-- {
			values[j-1], values[j] = values[j], values[j-1]
		}
	}
}

func (s *MockServer) handleRPCRequest(w http.ResponseWriter, r *http.Request) {
	if r.Method != "POST" {
		http.Error(w, "Only POST method is allowed", http.StatusMethodNotAllowed)
		return
	}

	var request Request
	if err := json.NewDecoder(r.Body).Decode(&request); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	response := Response[any]{Jsonrpc: "2.0", Id: request.Id}
	result, rpcErr := s.getResult(request.Method, request.Params...)
	if rpcErr != nil {
		response.Error = *rpcErr
	} else {
		response.Result = result
	}

	w.Header().Set("Content-Type", "application/json")
	err := json.NewEncoder(w).Encode(response)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}

// NewMockClient creates a new test client with a running mock server
func NewMockClient(
	t *testing.T,
	easyResults map[string]any,
	balances map[string]int64,
	inflationRewards map[int64]map[string]int64,
	slotInfos map[int64]MockSlotInfo,
	validatorInfos map[string]MockValidatorInfo,
) (*MockServer, *Client) {
	server, err := NewMockServer(easyResults, balances, inflationRewards, slotInfos, validatorInfos)
	if err != nil {
		t.Fatalf("failed to create mock server: %v", err)
	}

	t.Cleanup(func() {
		if err := server.Close(); err != nil {
			t.Errorf("failed to close mock server: %v", err)
		}
	})

	client := NewRPCClient(server.URL(), time.Second)
	return server, client
}
