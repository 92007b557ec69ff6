// Package bot routes chat messages from any frontend.
//
// Frontends convert their updates into an Inbound and call Router.Handle.
// Text starting with "/" is a command:
//
//	/start, /help          greeting and command list
//	/<provider>            choose a provider (gpt, deepseek, ...)
//	/new_chat <name> [m]   create a chat with model m
//	/continue              resume the newest chat
//	/history [search]      list chats, four per page
//	/more                  next /history page
//	/use <name>, /<name>   switch to a chat
//	/cancel                start a fresh thread in the current chat
//
// Anything else is a prompt for the active chat. One prompt per chat and user
// is answered at a time; extra prompts get busy_reply.
package bot
