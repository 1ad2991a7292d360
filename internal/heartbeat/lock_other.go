//go:build !unix

package heartbeat

// lockFile is a no-op outside unix: there's no portable advisory flock, so
// only the in-process mutex guards the store on these platforms.
func (s *Store) lockFile() (unlock func(), err error) {
	return func() {}, nil
}
