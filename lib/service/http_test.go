// Copyright 2026 The Hippocamp Authors
// SPDX-License-Identifier: Apache-2.0

package service

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"testing"
	"time"

	"github.com/hippocamp/matrix-actions/lib/testutil"
)

func TestHTTPServerServe(t *testing.T) {
	handler := http.HandlerFunc(func(writer http.ResponseWriter, _ *http.Request) {
		fmt.Fprint(writer, "ok")
	})

	server := NewHTTPServer(HTTPServerConfig{
		Address: "127.0.0.1:0",
		Handler: handler,
		Logger:  slog.New(slog.NewTextHandler(io.Discard, nil)),
	})

	ctx, cancel := context.WithCancel(context.Background())
	serveDone := make(chan error, 1)
	go func() {
		serveDone <- server.Serve(ctx)
	}()

	testutil.RequireClosed(t, server.Ready(), 5*time.Second, "server ready")

	response, err := http.Get("http://" + server.Addr().String() + "/")
	if err != nil {
		t.Fatalf("GET failed: %v", err)
	}
	body, _ := io.ReadAll(response.Body)
	response.Body.Close()
	if string(body) != "ok" {
		t.Errorf("unexpected body: %q", body)
	}

	cancel()
	if err := testutil.RequireReceive(t, serveDone, 5*time.Second, "serve exit"); err != nil {
		t.Errorf("Serve returned error: %v", err)
	}
}

func TestNewHTTPServerValidation(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Error("expected panic for missing handler")
		}
	}()
	NewHTTPServer(HTTPServerConfig{Address: ":0", Logger: slog.Default()})
}
