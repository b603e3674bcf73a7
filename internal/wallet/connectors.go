package wallet

import (
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/accounts"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"
)

const (
	InjectedName = "injected"
	FrameName    = "frame"
)

// InjectedConnector accepts an EIP-191 personal_sign signature over the
// challenge, as produced by a browser-injected wallet.
type InjectedConnector struct{}

func (InjectedConnector) Name() string { return InjectedName }

func (InjectedConnector) Verify(challenge string, proof Proof) (common.Address, error) {
	sig, err := hexutil.Decode(proof.Signature)
	if err != nil || len(sig) != crypto.SignatureLength {
		return common.Address{}, fmt.Errorf("%w: malformed signature", ErrInvalidProof)
	}
	if sig[crypto.RecoveryIDOffset] >= 27 {
		sig[crypto.RecoveryIDOffset] -= 27
	}

	pub, err := crypto.SigToPub(accounts.TextHash([]byte(challenge)), sig)
	if err != nil {
		return common.Address{}, fmt.Errorf("%w: %v", ErrInvalidProof, err)
	}
	signer := crypto.PubkeyToAddress(*pub)

	if proof.Address != "" {
		if !common.IsHexAddress(proof.Address) {
			return common.Address{}, fmt.Errorf("%w: bad address", ErrInvalidProof)
		}
		if common.HexToAddress(proof.Address) != signer {
			return common.Address{}, fmt.Errorf("%w: signer does not match address", ErrInvalidProof)
		}
	}
	return signer, nil
}

// FrameConnector trusts the address reported by the host frame and only checks
// its syntax.
type FrameConnector struct{}

func (FrameConnector) Name() string { return FrameName }

func (FrameConnector) Verify(challenge string, proof Proof) (common.Address, error) {
	addr := strings.TrimSpace(proof.Address)
	if !common.IsHexAddress(addr) {
		return common.Address{}, fmt.Errorf("%w: bad address", ErrInvalidProof)
	}
	return common.HexToAddress(addr), nil
}
