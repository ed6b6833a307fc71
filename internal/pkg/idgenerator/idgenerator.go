// nolint: gochecknoglobals
package idgenerator

import gonanoid "github.com/matoous/go-nanoid/v2"

const (
	ChangeSetIDLength             = 20
	TickIDLength                  = 12
	EtcdNamespaceForE2ETestLength = 10
)

// alphabet used in ID generation.
var alphabet = "0123456789abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ"

func ChangeSetID() string {
	return gonanoid.MustGenerate(alphabet, ChangeSetIDLength)
}

// TickID identifies one scheduler tick in logs.
func TickID() string {
	return gonanoid.MustGenerate(alphabet, TickIDLength)
}

func EtcdNamespaceForTest() string {
	return gonanoid.MustGenerate(alphabet, EtcdNamespaceForE2ETestLength)
}
