package did

import "testing"

func TestParseFamilies(t *testing.T) {
	cases := []struct {
		raw    string
		family Family
	}{
		{"eip155:0xF0030495802f8f90Ace6d869aBd653f2062fD1De", FamilyWallet},
		{"scw:eip155:137:0xDAB141eFC7Df3f3d1a97C06568140b2859F9BaC0", FamilySCW},
		{"nft:eip155:1:0xF0030495802f8f90Ace6d869aBd653f2062fD1De:42:1688140000", FamilyNFTV1},
		{"nft:eip155:1:0xF0030495802f8f90Ace6d869aBd653f2062fD1De:42", FamilyNFTV2},
	}
	for _, c := range cases {
		d, err := Parse(c.raw)
		if err != nil {
			t.Fatalf("Parse(%q): %v", c.raw, err)
		}
		if d.Family != c.family {
			t.Fatalf("Parse(%q): family %v, want %v", c.raw, d.Family, c.family)
		}
	}
}

func TestParseRejectsMalformed(t *testing.T) {
	bad := []string{
		"",
		"eip155:",
		"eip155:nothex",
		"eip155:0x123", // too short
		"scw:eip155:0xDAB141eFC7Df3f3d1a97C06568140b2859F9BaC0",     // missing chain id
		"scw:eip155:-1:0xDAB141eFC7Df3f3d1a97C06568140b2859F9BaC0",  // negative chain id
		"nft:eip155:1:0xF0030495802f8f90Ace6d869aBd653f2062fD1De",   // missing token id
		"nft:eip155:1:0xF0030495802f8f90Ace6d869aBd653f2062fD1De:x", // token id not numeric
		"solana:somepubkey",
		"eip155:0xF0030495802f8f90Ace6d869aBd653f2062fD1De:extra",
	}
	for _, raw := range bad {
		if Valid(raw) {
			t.Errorf("Valid(%q) = true, want false", raw)
		}
	}
}

func TestNormalizeDropsEpoch(t *testing.T) {
	v1 := "nft:eip155:1:0xF0030495802f8f90Ace6d869aBd653f2062fD1De:42:1688140000"
	v2 := "nft:eip155:1:0xF0030495802f8f90Ace6d869aBd653f2062fD1De:42"
	if got := Normalize(v1); got != v2 {
		t.Fatalf("Normalize(v1) = %q, want %q", got, v2)
	}
	if got := Normalize(v2); got != v2 {
		t.Fatalf("Normalize(v2) = %q, want %q", got, v2)
	}
}

func TestNormalizeChecksumsAddress(t *testing.T) {
	lower := "eip155:0xf0030495802f8f90ace6d869abd653f2062fd1de"
	want := "eip155:0xF0030495802f8f90Ace6d869aBd653f2062fD1De"
	if got := Normalize(lower); got != want {
		t.Fatalf("Normalize(%q) = %q, want %q", lower, got, want)
	}
}

func TestWalletAddress(t *testing.T) {
	addr, ok := WalletAddress("scw:eip155:137:0xDAB141eFC7Df3f3d1a97C06568140b2859F9BaC0")
	if !ok || addr != "0xDAB141eFC7Df3f3d1a97C06568140b2859F9BaC0" {
		t.Fatalf("WalletAddress scw = %q, %v", addr, ok)
	}
	if _, ok := WalletAddress("nft:eip155:1:0xF0030495802f8f90Ace6d869aBd653f2062fD1De:42"); ok {
		t.Fatal("WalletAddress should not resolve NFT identities directly")
	}
}
