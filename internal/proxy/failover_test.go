package proxy

import (
	"testing"
)

func imagePool() *HostPool {
	return NewHostPool("nhentai.net", []string{"i", "t"}, []int{1, 2, 3, 5, 7})
}

func TestCandidatesOrderAndCap(t *testing.T) {
	pool := imagePool()
	target := mustParseURL(t, "https://i3.nhentai.net/galleries/12345/1.jpg?x=1")

	candidates, err := pool.Candidates(target)
	if err != nil {
		t.Fatalf("Candidates: %v", err)
	}
	want := []string{
		"https://i3.nhentai.net/galleries/12345/1.jpg?x=1",
		"https://i1.nhentai.net/galleries/12345/1.jpg?x=1",
		"https://i2.nhentai.net/galleries/12345/1.jpg?x=1",
		"https://i5.nhentai.net/galleries/12345/1.jpg?x=1",
		"https://i7.nhentai.net/galleries/12345/1.jpg?x=1",
		"https://i.nhentai.net/galleries/12345/1.jpg?x=1",
	}
	if len(candidates) != len(want) {
		t.Fatalf("candidate count = %d, want %d: %v", len(candidates), len(want), candidates)
	}
	for i, c := range candidates {
		if c != want[i] {
			t.Fatalf("candidate[%d] = %q, want %q", i, c, want[i])
		}
	}
}

func TestCandidatesKeepRolePrefix(t *testing.T) {
	pool := imagePool()
	candidates, err := pool.Candidates(mustParseURL(t, "https://t2.nhentai.net/galleries/9/thumb.jpg"))
	if err != nil {
		t.Fatalf("Candidates: %v", err)
	}
	for _, c := range candidates {
		host := mustParseURL(t, c).Hostname()
		if host[0] != 't' {
			t.Fatalf("thumbnail request failed over to foreign role host %q", host)
		}
	}
}

func TestCandidatesRejectForeignHost(t *testing.T) {
	pool := imagePool()
	foreign := []string{
		"https://evil.example.com/1.jpg",
		"https://x1.nhentai.net/1.jpg",
		"https://i1.evil.nhentai.net.example.com/1.jpg",
		"https://sub.i1.nhentai.net/1.jpg",
		"https://iabc.nhentai.net/1.jpg",
	}
	for _, raw := range foreign {
		if _, err := pool.Candidates(mustParseURL(t, raw)); err == nil {
			t.Fatalf("Candidates(%q) accepted a foreign host", raw)
		}
	}
}

func TestContains(t *testing.T) {
	pool := imagePool()
	cases := []struct {
		host string
		want bool
	}{
		{"i1.nhentai.net", true},
		{"i.nhentai.net", true},
		{"t7.nhentai.net", true},
		{"I2.NHENTAI.NET", true},
		{"i99.nhentai.net", true},
		{"cdn.example.com", false},
		{"x1.nhentai.net", false},
		{"nhentai.net", false},
	}
	for _, tc := range cases {
		if got := pool.Contains(tc.host); got != tc.want {
			t.Fatalf("Contains(%q) = %v, want %v", tc.host, got, tc.want)
		}
	}
}
