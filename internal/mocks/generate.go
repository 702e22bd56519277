// Package mocks contains minimock mocks of the engine's extension points.
package mocks

//go:generate go tool minimock -i github.com/reprisedb/go-reprise/auth.Authorizer -o authorizer_mock.go -n AuthorizerMock -p mocks
//go:generate go tool minimock -i github.com/reprisedb/go-reprise/replication.Peer -o peer_mock.go -n PeerMock -p mocks
