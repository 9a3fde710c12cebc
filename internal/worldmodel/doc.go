// Package worldmodel holds the tracked object model: the objects believed to
// exist in the robot's environment, the percept messages that feed them and
// the store that owns them.
//
// The Model store furnishes an exclusive lock but does not serialise its
// methods internally. Every multi-step sequence (scan, match, mutate,
// snapshot) must run between Lock and Unlock, or inside WithLock.
package worldmodel
