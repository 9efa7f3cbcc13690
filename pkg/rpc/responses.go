package rpc

type (
	Response[T any] struct {
		Jsonrpc string   `json:"jsonrpc"`
		Result  T        `json:"result"`
		Error   RPCError `json:"error"`
		Id      int      `json:"id"`
	}

	// contextualResult wraps the subset of RPC results that come nested
	// under a {context, value} pair.
	contextualResult[T any] struct {
		Value   T `json:"value"`
		Context struct {
			Slot int64 `json:"slot"`
		} `json:"context"`
	}

	EpochInfo struct {
		// Current absolute slot in epoch
		AbsoluteSlot int64 `json:"absoluteSlot"`
		// Current block height
		BlockHeight int64 `json:"blockHeight"`
		// Current epoch number
		Epoch int64 `json:"epoch"`
		// Current slot relative to the start of the current epoch
		SlotIndex int64 `json:"slotIndex"`
		// Number of slots in this epoch
		SlotsInEpoch int64 `json:"slotsInEpoch"`
		// Total number of transactions
		TransactionCount int64 `json:"transactionCount"`
	}

	VoteAccount struct {
		ActivatedStake   int64   `json:"activatedStake"`
		Commission       int     `json:"commission"`
		EpochCredits     [][]int `json:"epochCredits"`
		EpochVoteAccount bool    `json:"epochVoteAccount"`
		LastVote         int64   `json:"lastVote"`
		NodePubkey       string  `json:"nodePubkey"`
		RootSlot         int64   `json:"rootSlot"`
		VotePubkey       string  `json:"votePubkey"`
	}

	VoteAccounts struct {
		Current    []VoteAccount `json:"current"`
		Delinquent []VoteAccount `json:"delinquent"`
	}

	// HostProduction is a getBlockProduction entry, sent on the wire as a
	// [leaderSlots, blocksProduced] pair.
	HostProduction struct {
		LeaderSlots    int64
		BlocksProduced int64
	}

	BlockProduction struct {
		FirstSlot  int64
		LastSlot   int64
		ByIdentity map[string]HostProduction
	}

	blockProductionResult struct {
		ByIdentity map[string][]int64 `json:"byIdentity"`
		Range      struct {
			FirstSlot int64 `json:"firstSlot"`
			LastSlot  int64 `json:"lastSlot"`
		} `json:"range"`
	}

	InflationReward struct {
		Amount        int64 `json:"amount"`
		EffectiveSlot int64 `json:"effectiveSlot"`
		Epoch         int64 `json:"epoch"`
		PostBalance   int64 `json:"postBalance"`
	}

	BlockReward struct {
		Pubkey     string `json:"pubkey"`
		Lamports   int64  `json:"lamports"`
		RewardType string `json:"rewardType"`
	}

	TransactionMeta struct {
		Fee                  int64 `json:"fee"`
		ComputeUnitsConsumed int64 `json:"computeUnitsConsumed"`
	}

	FullTransaction struct {
		Meta        TransactionMeta `json:"meta"`
		Transaction struct {
			Message struct {
				AccountKeys []string `json:"accountKeys"`
			} `json:"message"`
			Signatures []string `json:"signatures"`
		} `json:"transaction"`
	}

	Block struct {
		Blockhash    string            `json:"blockhash"`
		BlockHeight  int64             `json:"blockHeight"`
		BlockTime    int64             `json:"blockTime"`
		ParentSlot   int64             `json:"parentSlot"`
		Rewards      []BlockReward     `json:"rewards"`
		Transactions []FullTransaction `json:"transactions"`
	}

	PerformanceSample struct {
		Slot             int64 `json:"slot"`
		NumSlots         int64 `json:"numSlots"`
		NumTransactions  int64 `json:"numTransactions"`
		SamplePeriodSecs int64 `json:"samplePeriodSecs"`
	}
)

// FeeLamports returns the leader's fee reward for the block, or 0 if the
// node omitted rewards.
func (b *Block) FeeLamports() int64 {
	var total int64
	for _, reward := range b.Rewards {
		if reward.RewardType == "fee" || reward.RewardType == "Fee" {
			total += reward.Lamports
		}
	}
	return total
}

// ComputeUnits sums the compute units consumed across the block's transactions.
func (b *Block) ComputeUnits() int64 {
	var total int64
	for _, tx := range b.Transactions {
		total += tx.Meta.ComputeUnitsConsumed
	}
	return total
}
