package query

// Static operation type taxonomy: pure data, no logic. A type filter value is
// either an operation mnemonic, the name of a group expanding to several
// codes, or a bare numeric code in [0, maxOperationType].

const maxOperationType = 23

var operationTypeCodes = map[string]int32{
	"create_account":                   0,
	"payment":                          1,
	"path_payment_strict_receive":      2,
	"manage_sell_offer":                3,
	"create_passive_sell_offer":        4,
	"set_options":                      5,
	"change_trust":                     6,
	"allow_trust":                      7,
	"account_merge":                    8,
	"inflation":                        9,
	"manage_data":                      10,
	"bump_sequence":                    11,
	"manage_buy_offer":                 12,
	"path_payment_strict_send":         13,
	"create_claimable_balance":         14,
	"claim_claimable_balance":          15,
	"begin_sponsoring_future_reserves": 16,
	"end_sponsoring_future_reserves":   17,
	"revoke_sponsorship":               18,
	"clawback":                         19,
	"clawback_claimable_balance":       20,
	"set_trust_line_flags":             21,
	"liquidity_pool_deposit":           22,
	"liquidity_pool_withdraw":          23,
}

var operationTypeGroups = map[string][]int32{
	"payments":        {0, 1, 2, 8, 9, 13, 14, 15, 19, 20},
	"trustlines":      {6, 7, 21},
	"offers":          {3, 4, 12},
	"settings":        {5, 10, 11},
	"sponsorship":     {16, 17, 18},
	"liquidity_pools": {22, 23},
}
