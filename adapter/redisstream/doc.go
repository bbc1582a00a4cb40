// Package redisstream provides a Redis Streams channel for xproxy.
//
// Channel name: "redis-streams"
//
// Each channel is one stream. Post appends with XADD; Listen reads through a
// consumer group with XREADGROUP and acknowledges with XACK once the handler
// returned. Give every listening endpoint its own group so it sees every message.
//
// Minimal config keys:
// - addr: "host:port" (default "127.0.0.1:6379")
// - stream: stream key (required)
// - group: consumer group name (default: the consumer name)
// - consumer: consumer name (default "xproxy-<host>-<pid>")
// - concurrency: number of handler workers (default 1, keeps arrival order)
// - batch_size: XREADGROUP COUNT (default 128)
// - block: XREADGROUP BLOCK duration (default 5s)
// - auto_create: create group/stream if missing (default true)
// - auto_delete_on_ack: XDEL after XACK (default false)
// - max_len_approx: approximate MAXLEN trimming on XADD (default off)
//
// Example builder usage:
//
//	proxy, _ := xproxy.NewProxyBuilder().
//	    WithSendChannel(redisstream.ChannelName, map[string]any{
//	        "addr":   "localhost:6379",
//	        "stream": "guest",
//	    }).
//	    WithReceiveChannel(redisstream.ChannelName, map[string]any{
//	        "addr":   "localhost:6379",
//	        "stream": "host",
//	        "group":  "host",
//	    }).
//	    Build()
package redisstream
