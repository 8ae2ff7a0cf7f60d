// Package summarize condenses captured article text with an OpenAI
// compatible chat-completions endpoint and optionally assigns one of the
// catalog categories to it.
//
// The API key is supplied per call by the capture client; the server never
// stores it.
package summarize
