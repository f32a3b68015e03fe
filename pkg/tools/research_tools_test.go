// Copyright 2025 KrakLabs
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
//
// SPDX-License-Identifier: Apache-2.0

package tools

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestHandleResearchRequiresTopic(t *testing.T) {
	deps, _, closeAll := newTestDeps(t)
	defer closeAll()

	h := handleResearch(deps)
	_, err := h(context.Background(), json.RawMessage(`{"topic":""}`))
	require.Error(t, err)
}

func TestHandleResearchPropagatesProjectAccessorError(t *testing.T) {
	deps, projects, closeAll := newTestDeps(t)
	defer closeAll()
	projects.fetcherEr = errBoom

	h := handleResearch(deps)
	args, err := json.Marshal(researchArgs{Topic: "golang concurrency"})
	require.NoError(t, err)

	_, err = h(context.Background(), args)
	require.Error(t, err)
}
