package contract

import "fmt"

// Slots: 定长参数槽位表，记录每个槽位是否绑定过。零值可用。
type Slots struct {
	vals  [MaxSlots]Value
	bound [MaxSlots]bool
}

// CheckArity 校验元数位于 [0, MaxSlots]。
func CheckArity(arity int) error {
	if arity < 0 || arity > MaxSlots {
		return fmt.Errorf("arity %d outside [0,%d]: %w", arity, MaxSlots, ErrSlotOutOfRange)
	}
	return nil
}

// CheckSlot 校验槽位下标位于 [0, MaxSlots)。
func CheckSlot(i int) error {
	if i < 0 || i >= MaxSlots {
		return fmt.Errorf("slot %d outside [0,%d): %w", i, MaxSlots, ErrSlotOutOfRange)
	}
	return nil
}

// Set 绑定槽位 i；越界时表不变。
func (s *Slots) Set(i int, v Value) error {
	if err := CheckSlot(i); err != nil {
		return err
	}
	s.vals[i] = v
	s.bound[i] = true
	return nil
}

// Args 返回槽位 0..arity-1 的副本。
func (s *Slots) Args(arity int) ([]Value, error) {
	if err := CheckArity(arity); err != nil {
		return nil, err
	}
	out := make([]Value, arity)
	for i := 0; i < arity; i++ {
		if !s.bound[i] {
			return nil, fmt.Errorf("slot %d: %w", i, ErrSlotUnbound)
		}
		out[i] = s.vals[i]
	}
	return out, nil
}

// Reset 清空全部槽位。
func (s *Slots) Reset() { *s = Slots{} }
