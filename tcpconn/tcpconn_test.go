//go:build linux

package tcpconn_test

import (
	"time"

	"golang.org/x/sys/unix"

	"github.com/dshatrov/gomary/tcpconn"

	. "github.com/onsi/ginkgo"
	. "github.com/onsi/gomega"
)

func loopback(port int) unix.Sockaddr {
	return &unix.SockaddrInet4{Port: port, Addr: [4]byte{127, 0, 0, 1}}
}

var _ = Describe("Conn", func() {
	It("round-trips bytes over a loopback connection established via Dial/Accept", func() {
		ln, err := tcpconn.Listen(loopback(0), 1)
		Expect(err).NotTo(HaveOccurred())
		defer ln.Close()

		sa, err := unix.Getsockname(ln.Fd())
		Expect(err).NotTo(HaveOccurred())
		port := sa.(*unix.SockaddrInet4).Port

		client, err := tcpconn.Dial(loopback(port))
		Expect(err).NotTo(HaveOccurred())
		defer client.Close()

		var server *tcpconn.Conn
		Eventually(func() error {
			var acceptErr error
			server, _, acceptErr = ln.Accept()
			return acceptErr
		}, time.Second).Should(Succeed())
		defer server.Close()

		Eventually(func() error {
			return client.ConfirmConnected()
		}, time.Second).Should(Succeed())
		Expect(client.Connected()).To(BeTrue())

		_, err = client.Write([]byte("ping"))
		Expect(err).NotTo(HaveOccurred())

		buf := make([]byte, 16)
		var n int
		Eventually(func() (int, error) {
			var readErr error
			n, readErr = server.Read(buf)
			return n, readErr
		}, time.Second).Should(BeNumerically(">", 0))
		Expect(string(buf[:n])).To(Equal("ping"))
	})

	It("writes across multiple buffers in one Writev call", func() {
		ln, err := tcpconn.Listen(loopback(0), 1)
		Expect(err).NotTo(HaveOccurred())
		defer ln.Close()

		sa, _ := unix.Getsockname(ln.Fd())
		port := sa.(*unix.SockaddrInet4).Port

		client, err := tcpconn.Dial(loopback(port))
		Expect(err).NotTo(HaveOccurred())
		defer client.Close()

		var server *tcpconn.Conn
		Eventually(func() error {
			var acceptErr error
			server, _, acceptErr = ln.Accept()
			return acceptErr
		}, time.Second).Should(Succeed())
		defer server.Close()

		Eventually(client.ConfirmConnected, time.Second).Should(Succeed())

		n, err := client.Writev([][]byte{[]byte("foo"), []byte("bar")})
		Expect(err).NotTo(HaveOccurred())
		Expect(n).To(Equal(6))

		buf := make([]byte, 16)
		var got int
		Eventually(func() (int, error) {
			var readErr error
			got, readErr = server.Read(buf)
			return got, readErr
		}, time.Second).Should(BeNumerically(">=", 6))
		Expect(string(buf[:got])).To(Equal("foobar"))
	})
})
