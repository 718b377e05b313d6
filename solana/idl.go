package staking_rewards

import (
	"encoding/json"
	"fmt"
	"sync"
)

type IDL struct {
	Address      string              `json:"address"`
	Metadata     IDLMetadata         `json:"metadata"`
	Instructions []IDLInstruction    `json:"instructions"`
	Accounts     []IDLAccountDef     `json:"accounts"`
	Types        []IDLTypeDefinition `json:"types"`
	Errors       []IDLError          `json:"errors"`
}

type IDLMetadata struct {
	Name    string `json:"name"`
	Version string `json:"version"`
}

type IDLInstruction struct {
	Name          string       `json:"name"`
	Discriminator []byte       `json:"discriminator"`
	Args          []IDLField   `json:"args"`
	Accounts      []IDLAccount `json:"accounts"`
}

type IDLField struct {
	Name string          `json:"name"`
	Type json.RawMessage `json:"type"`
}

type IDLAccount struct {
	Name     string `json:"name"`
	Writable bool   `json:"writable"`
	Signer   bool   `json:"signer"`
}

type IDLAccountDef struct {
	Name          string `json:"name"`
	Discriminator []byte `json:"discriminator"`
}

type IDLTypeDefinition struct {
	Name string `json:"name"`
	Type struct {
		Kind   string     `json:"kind"`
		Fields []IDLField `json:"fields"`
	} `json:"type"`
}

type IDLError struct {
	Code int    `json:"code"`
	Name string `json:"name"`
	Msg  string `json:"msg"`
}

func ParseIDL(idlBytes []byte) (*IDL, error) {
	var idl IDL
	err := json.Unmarshal(idlBytes, &idl)
	if err != nil {
		return nil, fmt.Errorf("error unmarshalling IDL JSON: %w", err)
	}
	return &idl, nil
}

var (
	loadIdlOnce sync.Once
	loadIdlErr  error
	idlData     *IDL
	// instruction discriminator -> IDL instruction name
	instructionNameMap map[[8]byte]string
)

// LoadIDL parses the embedded program IDL once and returns it.
func LoadIDL() (*IDL, error) {
	loadIdlOnce.Do(func() {
		idlData, loadIdlErr = ParseIDL([]byte(idlJSON))
		if loadIdlErr != nil {
			return
		}
		instructionNameMap = make(map[[8]byte]string, len(idlData.Instructions))
		for _, inst := range idlData.Instructions {
			var disc [8]byte
			copy(disc[:], inst.Discriminator)
			instructionNameMap[disc] = inst.Name
		}
	})
	return idlData, loadIdlErr
}

// InstructionNameFromIDL resolves an instruction discriminator through the IDL.
func InstructionNameFromIDL(data []byte) (string, bool) {
	if len(data) < 8 {
		return "", false
	}
	if _, err := LoadIDL(); err != nil {
		return "", false
	}
	var disc [8]byte
	copy(disc[:], data[:8])
	name, ok := instructionNameMap[disc]
	return name, ok
}

// Embedded IDL of the deployed sol_staking_rewards program.
const idlJSON = `{
  "address": "6F4xuFXwNTowkA7FnNmo1ejeTTCX6FxYgsifQDwp5Xsf",
  "metadata": {
    "name": "sol_staking_rewards",
    "version": "0.1.0"
  },
  "instructions": [
    {
      "name": "destake",
      "discriminator": [70, 3, 73, 97, 22, 50, 116, 1],
      "accounts": [
        {"name": "signer", "writable": true, "signer": true},
        {"name": "token_vault_account", "writable": true},
        {"name": "stake_info_account", "writable": true},
        {"name": "stake_account", "writable": true},
        {"name": "user_token_account", "writable": true},
        {"name": "mint"},
        {"name": "token_program"},
        {"name": "associated_token_program"},
        {"name": "system_program"}
      ],
      "args": []
    },
    {
      "name": "initialize",
      "discriminator": [175, 175, 109, 31, 13, 152, 155, 237],
      "accounts": [
        {"name": "signer", "writable": true, "signer": true},
        {"name": "token_vault_account", "writable": true},
        {"name": "mint"},
        {"name": "token_program"},
        {"name": "system_program"}
      ],
      "args": []
    },
    {
      "name": "stake",
      "discriminator": [206, 176, 202, 18, 200, 209, 179, 108],
      "accounts": [
        {"name": "signer", "writable": true, "signer": true},
        {"name": "stake_info_account", "writable": true},
        {"name": "stake_account", "writable": true},
        {"name": "user_token_account", "writable": true},
        {"name": "mint"},
        {"name": "token_program"},
        {"name": "associated_token_program"},
        {"name": "system_program"}
      ],
      "args": [
        {"name": "amount", "type": "u64"}
      ]
    }
  ],
  "accounts": [
    {
      "name": "StakeInfo",
      "discriminator": [66, 62, 68, 70, 108, 179, 183, 235]
    }
  ],
  "errors": [
    {"code": 6000, "name": "IsStaked", "msg": "Token are already staked"},
    {"code": 6001, "name": "NotStaked", "msg": "Token not staked"},
    {"code": 6002, "name": "NoTokens", "msg": "No Token to stake"},
    {"code": 6003, "name": "LockPeriodNotEnded", "msg": "Lock period has not ended yet"},
    {"code": 6004, "name": "AlreadyInitialized", "msg": "Vault is already initialized"},
    {"code": 6005, "name": "OwnerMismatch", "msg": "Stake record belongs to another staker"},
    {"code": 6006, "name": "EscrowMismatch", "msg": "Stake account balance does not match the staked principal"},
    {"code": 6007, "name": "MathOverflow", "msg": "Arithmetic overflow"}
  ],
  "types": [
    {
      "name": "StakeInfo",
      "type": {
        "kind": "struct",
        "fields": [
          {"name": "owner", "type": "pubkey"},
          {"name": "principal", "type": "u64"},
          {"name": "stake_at_slot", "type": "u64"},
          {"name": "staked_at", "type": "i64"},
          {"name": "accrued_reward", "type": "u64"},
          {"name": "is_staked", "type": "bool"},
          {"name": "lock_end_time", "type": "i64"}
        ]
      }
    }
  ]
}`
