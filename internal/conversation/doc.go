// Package conversation turns a user prompt into a gateway turn.
//
// # Overview
//
// The conversation package sits between the chat router and the gateway
// client. It owns the per-user context table and rebuilds request history
// from stored questions and answers.
//
// # Chains
//
// Every question stores the id of the question it follows. ChainBuilder
// inverts those parent links into forward chains:
//
//	q1 <- q2 <- q3   =>   q1, a1, q2, a2, q3, a3
//
// A question whose parent is missing starts a new chain. When two questions
// share a parent only the later one is followed.
//
// # Service
//
//	svc := conversation.NewService(conversation.ServiceConfig{...})
//	err := svc.SendPrompt(ctx, req)
//
// SendPrompt runs these steps:
//
//  1. Rebuild the chain ending at the context's ParentID
//  2. Save the question and advance ParentID to it
//  3. Encode the request with the provider
//  4. Stream the answer through a render.Turn and wait for it to settle
//
// A ParentID of 0 (a new chat, or after /cancel) sends no history.
package conversation
