// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package pipeline sends user messages to the model provider and records
// the outcome in the conversation store.
//
// A reply is always appended, successful or not. Provider failures become
// an assistant message with status error and the retry data needed to
// send the same input again; Retry later turns that message into the
// reply in place.
//
// # Key Types
//
//   - Pipeline: Send and Retry, serialized per conversation
//   - SendRequest: Text, images and target conversation
//   - ValidationError: Rejected input; nothing was changed
//
// # Usage
//
//	p := pipeline.New(st, holder, cat, client, metrics, log)
//	msg, err := p.Send(ctx, pipeline.SendRequest{ConversationID: id, Text: "hello"})
//	if pipeline.IsValidation(err) {
//	    // show the reason, nothing was sent
//	}
//	if msg.CanRetry() {
//	    msg, err = p.Retry(ctx, id, msg.ID)
//	}
package pipeline
