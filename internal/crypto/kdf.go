package crypto

// TmpAESKeyIV derives the handshake-phase AES key/iv pair from the server
// nonce and the client's new nonce. This pair protects the DH inner data
// before any auth key exists. The derivation differs per direction: the
// client-to-server pair mixes the nonces in the opposite order, so the two
// directions never share cipher state even at this phase.
func TmpAESKeyIV(serverNonce [16]byte, newNonce [32]byte, toServer bool) (key, iv []byte) {
	var ns, sn []byte
	if toServer {
		ns = SHA1(serverNonce[:], newNonce[:])
		sn = SHA1(newNonce[:], serverNonce[:])
	} else {
		ns = SHA1(newNonce[:], serverNonce[:])
		sn = SHA1(serverNonce[:], newNonce[:])
	}
	nn := SHA1(newNonce[:], newNonce[:])
	defer Wipe(ns)
	defer Wipe(sn)
	defer Wipe(nn)

	key = make([]byte, 32)
	copy(key, ns)
	copy(key[20:], sn[:12])

	iv = make([]byte, 32)
	copy(iv, sn[12:])
	copy(iv[8:], nn)
	copy(iv[28:], newNonce[:4])
	return key, iv
}

// SessionKeyIV derives the session-phase AES key/iv pair from the long-term
// auth key and a message key. The mixing offset differs per direction
// (x=0 client to server, x=8 server to client) so the two directions never
// share cipher state; this asymmetry is a protocol requirement.
func SessionKeyIV(authKey *[256]byte, msgKey [16]byte, toServer bool) (key, iv []byte) {
	x := 8
	if toServer {
		x = 0
	}

	a := SHA1(msgKey[:], authKey[x:x+32])
	b := SHA1(authKey[32+x:48+x], msgKey[:], authKey[48+x:64+x])
	c := SHA1(authKey[64+x:96+x], msgKey[:])
	d := SHA1(msgKey[:], authKey[96+x:128+x])
	defer Wipe(a)
	defer Wipe(b)
	defer Wipe(c)
	defer Wipe(d)

	key = make([]byte, 32)
	copy(key, a[:8])
	copy(key[8:], b[8:20])
	copy(key[20:], c[4:16])

	iv = make([]byte, 32)
	copy(iv, a[8:20])
	copy(iv[12:], b[:8])
	copy(iv[20:], c[16:20])
	copy(iv[24:], d[:8])
	return key, iv
}
