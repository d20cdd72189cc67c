// Copyright 2024 The bit Authors. All rights reserved.
// Use of this source code is governed by the MIT License
// that can be found in the LICENSE file.

package kvsrv

import (
	"context"
)

const (
	MockKey   = "mock_key"
	MockValue = "mock data"
)

// mockService never touches the file system.
type mockService struct{}

func newMockService() mockService {
	return mockService{}
}

func (mockService) BuildIndex(context.Context) error { return nil }
func (mockService) Load(context.Context) error       { return nil }
func (mockService) Len() int                         { return 1 }
func (mockService) Close() error                     { return nil }

func (mockService) Get(string) ([]byte, error) {
	return []byte(MockValue), nil
}

func (mockService) HeadKeys(limit int) ([]string, error) {
	if limit <= 0 {
		return nil, nil
	}
	return []string{MockKey}, nil
}
