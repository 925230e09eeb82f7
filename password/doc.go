// Package password hashes backend account passwords with Argon2id.
//
// Hashes are encoded in PHC string format:
//
//	$argon2id$v=19$m=<memory>,t=<time>,p=<threads>$<salt>$<hash>
//
// [Argon2.NeedsUpgrade] reports hashes produced with weaker parameters so the
// caller can re-hash on the next successful login.
package password
