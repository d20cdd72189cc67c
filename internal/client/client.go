// Copyright 2024 The bit Authors. All rights reserved.
// Use of this source code is governed by the MIT License
// that can be found in the LICENSE file.

// Package client talks to a running kvsrv HTTP server.
package client

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/go-resty/resty/v2"

	"github.com/bpowers/kvsrv"
)

const (
	getEndpoint      = "/get/"
	headKeysEndpoint = "/head_keys/"

	defaultTimeout = 10 * time.Second
)

type Client struct {
	client *resty.Client
}

type detailResponse struct {
	Detail string `json:"detail"`
}

type headKeysResponse struct {
	Keys []string `json:"keys"`
}

func New(baseURL string) *Client {
	return &Client{
		client: resty.New().
			SetBaseURL(baseURL).
			SetTimeout(defaultTimeout),
	}
}

// Get returns the value stored for key.  Server responses are mapped
// back onto kvsrv.ErrNotFound and kvsrv.ErrInvalidKey.
func (c *Client) Get(ctx context.Context, key string) ([]byte, error) {
	var detail detailResponse
	resp, err := c.client.R().
		SetContext(ctx).
		SetQueryParam("key", key).
		SetError(&detail).
		Get(getEndpoint)
	if err != nil {
		return nil, fmt.Errorf("GET %s: %w", getEndpoint, err)
	}

	switch resp.StatusCode() {
	case http.StatusOK:
		return resp.Body(), nil
	case http.StatusNotFound:
		return nil, fmt.Errorf("key %s: %w", key, kvsrv.ErrNotFound)
	case http.StatusBadRequest:
		return nil, fmt.Errorf("%w: %s", kvsrv.ErrInvalidKey, detail.Detail)
	default:
		return nil, statusError(resp, detail)
	}
}

func (c *Client) HeadKeys(ctx context.Context, limit int) ([]string, error) {
	var result headKeysResponse
	var detail detailResponse
	resp, err := c.client.R().
		SetContext(ctx).
		SetQueryParam("limit", strconv.Itoa(limit)).
		SetResult(&result).
		SetError(&detail).
		Get(headKeysEndpoint)
	if err != nil {
		return nil, fmt.Errorf("GET %s: %w", headKeysEndpoint, err)
	}
	if resp.StatusCode() != http.StatusOK {
		return nil, statusError(resp, detail)
	}
	return result.Keys, nil
}

func statusError(resp *resty.Response, detail detailResponse) error {
	if detail.Detail != "" {
		return fmt.Errorf("%s %s: %s: %s", resp.Request.Method, resp.Request.URL, resp.Status(), detail.Detail)
	}
	return fmt.Errorf("%s %s: %s", resp.Request.Method, resp.Request.URL, resp.Status())
}
