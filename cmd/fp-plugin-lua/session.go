package main

import (
	"fmt"
	"os"
	"sync"

	"fp/pkg/contract"
	"fp/plugins/backend/lua"
)

// abiVersion 与 fp_plugin.h 的 FP_ABI_VERSION 一致。
const abiVersion = 1

// session: 模块内唯一的 Lua 会话。宿主可能从任意线程调用，故以互斥锁串行化。
type session struct {
	mu      sync.Mutex
	backend *lua.Backend
	abiErr  error
}

var global session

// get 惰性创建后端；调用方须持有锁。
func (s *session) get() (*lua.Backend, error) {
	if s.abiErr != nil {
		return nil, s.abiErr
	}
	if s.backend == nil {
		b, err := lua.New(nil)
		if err != nil {
			return nil, err
		}
		b.Init(contract.Environment{Trace: os.Stderr})
		s.backend = b
	}
	return s.backend, nil
}

func (s *session) init(version uint32, debug bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if version != abiVersion {
		s.abiErr = fmt.Errorf("fp-plugin-lua: abi version %d, want %d", version, abiVersion)
		return
	}
	s.abiErr = nil
	b, err := s.get()
	if err != nil {
		return
	}
	b.Init(contract.Environment{DeclarationDebug: debug, Trace: os.Stderr})
}

func (s *session) declare(name string, arity int, code string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, err := s.get()
	if err != nil {
		return err
	}
	return b.Declare(name, arity, code)
}

func (s *session) importLib(descriptor string, ns contract.ImportNamespace) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, err := s.get()
	if err != nil {
		return err
	}
	return b.Import(descriptor, ns)
}

func (s *session) pass(slot int, v contract.Value) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, err := s.get()
	if err != nil {
		return err
	}
	return b.PassArgument(slot, v)
}

func (s *session) evaluate(name string, arity int) (contract.Value, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, err := s.get()
	if err != nil {
		return contract.Value{}, err
	}
	return b.Evaluate(name, arity)
}
