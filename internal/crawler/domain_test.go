package crawler

import "testing"

func TestRegistrableDomain(t *testing.T) {
	cases := []struct {
		rawURL string
		want   string
	}{
		{"https://www.example.com/listing/42", "example.com"},
		{"https://m.listings.example.co.uk/p?q=1", "example.co.uk"},
		{"http://example.com", "example.com"},
		{"http://localhost:8080/x", "localhost"},
		{"http://10.1.2.3/x", "10.1.2.3"},
		// Same trailing octets must not collapse into one bucket.
		{"http://20.9.2.3/x", "20.9.2.3"},
		{"http://192.168.1.3:8080/x", "192.168.1.3"},
		{"http://[2001:db8::1]:8080/x", "2001:db8::1"},
	}
	for _, tc := range cases {
		got, err := RegistrableDomain(tc.rawURL)
		if err != nil {
			t.Fatalf("RegistrableDomain(%q): %v", tc.rawURL, err)
		}
		if got != tc.want {
			t.Errorf("RegistrableDomain(%q) = %q, want %q", tc.rawURL, got, tc.want)
		}
	}
}

func TestRegistrableDomainRejectsHostless(t *testing.T) {
	if _, err := RegistrableDomain("not a url"); err == nil {
		t.Fatal("expected error for hostless input")
	}
}

func TestProxyRecordKeyAndURL(t *testing.T) {
	p := ProxyRecord{Protocol: "socks5", Host: "10.0.0.5", Port: 1080}
	if p.Key() != "10.0.0.5:1080" {
		t.Errorf("Key() = %q", p.Key())
	}
	if p.URL() != "socks5://10.0.0.5:1080" {
		t.Errorf("URL() = %q", p.URL())
	}
	bare := ProxyRecord{Host: "h", Port: 80}
	if bare.URL() != "http://h:80" {
		t.Errorf("URL() default proto = %q", bare.URL())
	}
}
