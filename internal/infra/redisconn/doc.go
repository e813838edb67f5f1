// Package redisconn owns the lifecycle of the shared redis client: it
// connects at startup, answers health checks and disconnects at shutdown.
// Library components receive the client and never close it.
package redisconn
