package w77q

// keyManager stores pointers to up-to-eight restricted and
// up-to-eight full-access per-section keys, plus the materialized
// session key and the current KID (spec §4.4). It never copies key
// bytes; the caller owns the backing array and must keep it valid
// while loaded.
type keyManager struct {
	restricted [8][]byte
	full       [8][]byte

	sessionKey [16]byte
	kid        KID
}

func newKeyManager() *keyManager {
	return &keyManager{kid: InvalidKID}
}

func isAllZero(b []byte) bool {
	for _, v := range b {
		if v != 0 {
			return false
		}
	}
	return true
}

// loadKey stores a key pointer for a section/class. Rejects a nil or
// all-zero key.
func (m *keyManager) loadKey(section byte, key []byte, fullAccess bool) error {
	if key == nil || isAllZero(key) {
		return newErr("LoadKey", CodeInvalidParameter)
	}
	if section >= 8 {
		return newErr("LoadKey", CodeParameterOutOfRange)
	}
	if fullAccess {
		m.full[section] = key
	} else {
		m.restricted[section] = key
	}
	return nil
}

// removeKey clears a key pointer. Fails if the session is currently
// bound to that exact key class/section.
func (m *keyManager) removeKey(section byte, fullAccess bool) error {
	if section >= 8 {
		return newErr("RemoveKey", CodeParameterOutOfRange)
	}
	if m.isSessionOpen() && m.kid.Section() == section {
		boundFull := m.kid.Type() == KIDFullAccessSection
		if boundFull == fullAccess {
			return newErr("RemoveKey", CodeIncorrectState)
		}
	}
	if fullAccess {
		m.full[section] = nil
	} else {
		m.restricted[section] = nil
	}
	return nil
}

func (m *keyManager) isSessionOpen() bool { return m.kid.IsValid() }

func (m *keyManager) isSectionFullAccess(s byte) bool {
	return m.kid == MakeKID(KIDFullAccessSection, s)
}

func (m *keyManager) isSectionRestricted(s byte) bool {
	return m.kid == MakeKID(KIDRestrictedSection, s)
}

func (m *keyManager) openSession(kid KID, sessionKey [16]byte) {
	m.kid = kid
	m.sessionKey = sessionKey
}

func (m *keyManager) closeSession() {
	m.kid = InvalidKID
	for i := range m.sessionKey {
		m.sessionKey[i] = 0
	}
}

func (m *keyManager) currentSessionKey() []byte {
	return m.sessionKey[:]
}
