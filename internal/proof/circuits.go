package proof

import (
	"context"
	"fmt"
	"math/big"
)

const (
	CircuitBalance   = "balance"
	CircuitHolder    = "holder"
	CircuitThreshold = "threshold"
)

// precondition rejects inputs the circuit cannot prove, before the prover
// spends seconds failing on them. Unknown circuits pass through.
type precondition func(inputs map[string]any) error

var circuits = map[string]precondition{
	CircuitBalance:   atLeast("balance", "threshold"),
	CircuitHolder:    holdsToken,
	CircuitThreshold: atLeast("value", "threshold"),
}

func KnownCircuit(circuitID string) bool {
	_, ok := circuits[circuitID]
	return ok
}

// CheckPreconditions validates inputs for one of the canonical circuits.
func CheckPreconditions(circuitID string, inputs map[string]any) error {
	check, ok := circuits[circuitID]
	if !ok {
		return nil
	}

	return check(inputs)
}

func atLeast(valueField, thresholdField string) precondition {
	return func(inputs map[string]any) error {
		value, err := integerInput(inputs, valueField)
		if err != nil {
			return err
		}
		threshold, err := integerInput(inputs, thresholdField)
		if err != nil {
			return err
		}

		if value.Cmp(threshold) < 0 {
			return fmt.Errorf("%w: %s is below %s", ErrPrecondition, valueField, thresholdField)
		}

		return nil
	}
}

func holdsToken(inputs map[string]any) error {
	balance, err := integerInput(inputs, "balance")
	if err != nil {
		return err
	}

	minimum := big.NewInt(1)
	if _, ok := inputs["min_amount"]; ok {
		if minimum, err = integerInput(inputs, "min_amount"); err != nil {
			return err
		}
	}

	if balance.Cmp(minimum) < 0 {
		return fmt.Errorf("%w: balance is below the holder minimum", ErrPrecondition)
	}

	return nil
}

// integerInput accepts JSON numbers and decimal strings so token amounts
// beyond 2^53 survive.
func integerInput(inputs map[string]any, field string) (*big.Int, error) {
	raw, ok := inputs[field]
	if !ok {
		return nil, fmt.Errorf("%w: missing input %q", ErrPrecondition, field)
	}

	value := new(big.Int)
	switch v := raw.(type) {
	case string:
		if _, ok := value.SetString(v, 10); !ok {
			return nil, fmt.Errorf("%w: input %q is not an integer", ErrPrecondition, field)
		}
	case float64:
		if v != float64(int64(v)) {
			return nil, fmt.Errorf("%w: input %q is not an integer", ErrPrecondition, field)
		}
		value.SetInt64(int64(v))
	case int:
		value.SetInt64(int64(v))
	case int64:
		value.SetInt64(v)
	default:
		return nil, fmt.Errorf("%w: input %q has unsupported type %T", ErrPrecondition, field, raw)
	}

	return value, nil
}

// BalanceInput is the private witness for the balance circuit.
type BalanceInput struct {
	Balance   string `json:"balance"`
	Threshold string `json:"threshold"`
	Salt      string `json:"salt,omitempty"`
}

func (in BalanceInput) inputs() map[string]any {
	inputs := map[string]any{"balance": in.Balance, "threshold": in.Threshold}
	if in.Salt != "" {
		inputs["salt"] = in.Salt
	}
	return inputs
}

// GenerateBalanceProof proves balance >= threshold inline, bypassing the
// queue. The prover is not called when the statement is false.
func (s *Service) GenerateBalanceProof(ctx context.Context, input BalanceInput) (Result, error) {
	return s.GenerateSync(ctx, CircuitBalance, input.inputs())
}

func (s *Service) GenerateHolderProof(ctx context.Context, balance, minAmount string) (Result, error) {
	inputs := map[string]any{"balance": balance}
	if minAmount != "" {
		inputs["min_amount"] = minAmount
	}
	return s.GenerateSync(ctx, CircuitHolder, inputs)
}

func (s *Service) GenerateThresholdProof(ctx context.Context, value, threshold string) (Result, error) {
	return s.GenerateSync(ctx, CircuitThreshold, map[string]any{"value": value, "threshold": threshold})
}

// GenerateSync runs one of the canonical circuits inside the caller's
// request.
func (s *Service) GenerateSync(ctx context.Context, circuitID string, inputs map[string]any) (Result, error) {
	if !KnownCircuit(circuitID) {
		return Result{}, fmt.Errorf("%w: %s", ErrUnknownCircuit, circuitID)
	}
	if err := CheckPreconditions(circuitID, inputs); err != nil {
		return Result{}, err
	}

	ctx, cancel := context.WithTimeout(ctx, s.syncTimeout)
	defer cancel()

	return s.prover.Prove(ctx, circuitID, inputs)
}
