package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"errors"

	"golang.org/x/crypto/twofish"

	"github.com/clearline/go-zrtp/pkg/protocol"
)

var ErrWrongKeyLength = errors.New("cipher key has wrong length")

// CipherSuite binds a ZRTP cipher name to a block cipher constructor.
// ZRTP uses the cipher in full-block CFB mode to protect the Confirm
// and SASrelay encrypted regions.
type CipherSuite struct {
	ID      protocol.AlgorithmID
	KeyLen  int
	NonNIST bool
	newBlock func(key []byte) (cipher.Block, error)
}

// Encrypt runs CFB encryption in place over data.
func (s *CipherSuite) Encrypt(key, iv, data []byte) error {
	block, err := s.block(key)
	if err != nil {
		return err
	}
	cipher.NewCFBEncrypter(block, iv).XORKeyStream(data, data)
	return nil
}

// Decrypt runs CFB decryption in place over data.
func (s *CipherSuite) Decrypt(key, iv, data []byte) error {
	block, err := s.block(key)
	if err != nil {
		return err
	}
	cipher.NewCFBDecrypter(block, iv).XORKeyStream(data, data)
	return nil
}

func (s *CipherSuite) block(key []byte) (cipher.Block, error) {
	if len(key) != s.KeyLen {
		return nil, ErrWrongKeyLength
	}
	return s.newBlock(key)
}

func newAES(key []byte) (cipher.Block, error) {
	return aes.NewCipher(key)
}

func newTwofish(key []byte) (cipher.Block, error) {
	return twofish.NewCipher(key)
}
